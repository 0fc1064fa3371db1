// Package usage defines the durable usage record produced for every proxied
// request, along with the query and summary types used by the reporting
// commands.
//
// A Record is the unit of durable output: exactly one is appended per inbound
// request that reaches the point of obtaining (or failing to obtain) an
// upstream response. Records are immutable once written.
package usage
