package storage

// Schema contains the SQL statements to create the usage database schema.
// The table is append-only: rows are inserted by the proxy and only ever
// deleted by the optional retention pruner.
const Schema = `
CREATE TABLE IF NOT EXISTS requests (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp       TEXT    NOT NULL,
    provider        TEXT    NOT NULL DEFAULT 'anthropic',
    model           TEXT    NOT NULL,
    endpoint        TEXT    NOT NULL,
    input_tokens    INTEGER NOT NULL DEFAULT 0,
    output_tokens   INTEGER NOT NULL DEFAULT 0,
    cache_creation_input_tokens INTEGER NOT NULL DEFAULT 0,
    cache_read_input_tokens     INTEGER NOT NULL DEFAULT 0,
    status_code     INTEGER,
    request_id      TEXT,
    stop_reason     TEXT,
    caller          TEXT,
    error           TEXT,
    api_key_hint    TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests(timestamp);
`

// migration is one additive, non-destructive schema change applied at open
// when the named column is missing. Earlier deployments of the usage table
// predate these columns.
type migration struct {
	column string
	ddl    string
}

// migrations lists the additive column migrations in application order.
var migrations = []migration{
	{
		column: "api_key_hint",
		ddl:    `ALTER TABLE requests ADD COLUMN api_key_hint TEXT NOT NULL DEFAULT ''`,
	},
	{
		column: "provider",
		ddl:    `ALTER TABLE requests ADD COLUMN provider TEXT NOT NULL DEFAULT 'anthropic'`,
	},
}
