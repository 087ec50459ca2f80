package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS tenders (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	source          TEXT NOT NULL,
	matched_keyword TEXT,
	fetch_time      DATETIME NOT NULL,
	external_id     TEXT NOT NULL DEFAULT '',
	url             TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL,
	organization    TEXT NOT NULL DEFAULT '',
	location        TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	deadline        TEXT NOT NULL DEFAULT '',
	published       TEXT NOT NULL DEFAULT '',
	notified        INTEGER NOT NULL DEFAULT 0,
	notified_at     DATETIME,
	created_at      DATETIME NOT NULL,
	UNIQUE (source, external_id, url, title)
);
CREATE INDEX IF NOT EXISTS idx_tenders_pending ON tenders(notified, source, fetch_time);
CREATE INDEX IF NOT EXISTS idx_tenders_created ON tenders(created_at);

CREATE TABLE IF NOT EXISTS runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL,
	start_time    DATETIME NOT NULL,
	end_time      DATETIME,
	outcome       TEXT NOT NULL,
	records_found INTEGER NOT NULL DEFAULT 0,
	records_new   INTEGER NOT NULL DEFAULT 0,
	error_detail  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_source_start ON runs(source, start_time);

CREATE TABLE IF NOT EXISTS notifications (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	sent_at        DATETIME NOT NULL,
	recipient_set  TEXT NOT NULL,
	subject        TEXT NOT NULL,
	included_count INTEGER NOT NULL DEFAULT 0,
	outcome        TEXT NOT NULL,
	error_detail   TEXT NOT NULL DEFAULT ''
);
`

const recordColumns = `id, source, matched_keyword, fetch_time, external_id, url, title,
	organization, location, category, deadline, published, notified, notified_at, created_at`

const runColumns = `id, run_id, source, start_time, end_time, outcome, records_found, records_new, error_detail`

const notificationColumns = `id, sent_at, recipient_set, subject, included_count, outcome, error_detail`
