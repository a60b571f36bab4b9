package connectivity

import "database/sql"

// Schema is the routes table. Strategies:
//   - "local": the in-process handler (same as no row).
//   - "http":  POST to a remote pagesnap at endpoint.
//   - "noop":  succeed without doing anything.
const Schema = `
CREATE TABLE IF NOT EXISTS routes (
    action     TEXT PRIMARY KEY,
    strategy   TEXT NOT NULL CHECK(strategy IN ('local', 'http', 'noop')),
    endpoint   TEXT,
    config     TEXT DEFAULT '{}',
    updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
`

// Init creates the routes table.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
