package storage

// Columns of doc_info in the order every SELECT and INSERT uses
const docColumns = `id, url, title, domain, status_code, stored, content_type, content_length, create_time, update_time`

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS doc_info (
    id INTEGER PRIMARY KEY,
    url TEXT NOT NULL,
    title TEXT,
    domain TEXT,
    status_code INTEGER,
    stored INTEGER NOT NULL DEFAULT 0,
    content_type TEXT,
    content_length INTEGER,
    create_time DATETIME NOT NULL,
    update_time DATETIME
);

CREATE INDEX IF NOT EXISTS idx_doc_info_url ON doc_info(url);
CREATE INDEX IF NOT EXISTS idx_doc_info_status ON doc_info(status_code);
CREATE INDEX IF NOT EXISTS idx_doc_info_domain ON doc_info(domain);
`

var postgresSchemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS doc_info (
    id BIGINT PRIMARY KEY,
    url TEXT NOT NULL,
    title TEXT,
    domain TEXT,
    status_code INTEGER,
    stored INTEGER NOT NULL DEFAULT 0,
    content_type TEXT,
    content_length BIGINT,
    create_time TIMESTAMPTZ NOT NULL,
    update_time TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS idx_doc_info_url ON doc_info(url)`,
	`CREATE INDEX IF NOT EXISTS idx_doc_info_status ON doc_info(status_code)`,
	`CREATE INDEX IF NOT EXISTS idx_doc_info_domain ON doc_info(domain)`,
}
