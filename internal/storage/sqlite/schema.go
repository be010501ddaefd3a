package sqlite

// Timestamps are stored as unix milliseconds.
const schema = `
-- Finished investigations, one row per session
CREATE TABLE IF NOT EXISTS investigations (
    session_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    headline TEXT NOT NULL DEFAULT '',
    abort_reason TEXT NOT NULL DEFAULT '',
    overall_confidence REAL NOT NULL DEFAULT 0,
    cost_used INTEGER NOT NULL DEFAULT 0,
    turns_used INTEGER NOT NULL DEFAULT 0,
    was_safe INTEGER,
    started_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    report TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_investigations_started_at ON investigations(started_at);
CREATE INDEX IF NOT EXISTS idx_investigations_status ON investigations(status);

-- Reasoning turns (audit trail)
CREATE TABLE IF NOT EXISTS turns (
    session_id TEXT NOT NULL,
    number INTEGER NOT NULL,
    prompt TEXT NOT NULL,
    response TEXT NOT NULL DEFAULT '',
    cost_used INTEGER NOT NULL DEFAULT 0,
    questions TEXT NOT NULL DEFAULT '[]',
    answers TEXT NOT NULL DEFAULT '[]',
    error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (session_id, number)
);

-- Reasoning token usage for the hourly budget window
CREATE TABLE IF NOT EXISTS reasoning_usage (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL DEFAULT '',
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cost_usd REAL NOT NULL DEFAULT 0,
    recorded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reasoning_usage_recorded_at ON reasoning_usage(recorded_at);
`
