// Package retention prunes aged usage records from the store on a
// cron schedule. A retention of zero days keeps records forever.
package retention
