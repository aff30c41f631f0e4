package store

// Schema contains the DDL for the export history tables.
const Schema = `
-- Export sessions: one row per trigger activation
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    scope       TEXT NOT NULL DEFAULT '',
    page_url    TEXT NOT NULL DEFAULT '',
    chat_title  TEXT NOT NULL DEFAULT '',
    profile     TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    dir         TEXT NOT NULL DEFAULT '',
    collected   INTEGER NOT NULL DEFAULT 0,
    skipped     TEXT NOT NULL DEFAULT '[]',
    summary     TEXT NOT NULL DEFAULT '{}',
    started_at  INTEGER NOT NULL,
    ended_at    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC);

-- Messages in export order
CREATE TABLE IF NOT EXISTS messages (
    session_id  TEXT NOT NULL,
    id          TEXT NOT NULL,
    position    INTEGER NOT NULL,
    author      TEXT NOT NULL,
    timestamp   TEXT NOT NULL DEFAULT '',
    time_ms     INTEGER,
    body_html   TEXT NOT NULL DEFAULT '',
    body_text   TEXT NOT NULL DEFAULT '',
    thread_id   TEXT NOT NULL DEFAULT '',
    subject     TEXT NOT NULL DEFAULT '',
    reactions   TEXT NOT NULL DEFAULT '[]',
    PRIMARY KEY (session_id, id),
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_messages_position ON messages(session_id, position);

-- Asset manifest
CREATE TABLE IF NOT EXISTS assets (
    session_id  TEXT NOT NULL,
    id          TEXT NOT NULL,
    message_id  TEXT NOT NULL,
    ordinal     INTEGER NOT NULL,
    kind        TEXT NOT NULL,
    source      TEXT NOT NULL DEFAULT '',
    state       TEXT NOT NULL,
    path        TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (session_id, id),
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_assets_state ON assets(session_id, state);
`
