package storage

const initSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    start_time  DATETIME NOT NULL,
    transport   TEXT NOT NULL,
    config      TEXT
);

CREATE TABLE IF NOT EXISTS readings (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL REFERENCES sessions(id),
    timestamp   DATETIME NOT NULL,
    frequency   REAL NOT NULL,
    real        REAL NOT NULL,
    imag        REAL NOT NULL,
    magnitude   REAL NOT NULL,
    phase       REAL NOT NULL,
    depth       REAL NOT NULL,
    temperature REAL NOT NULL,
    battery     INTEGER NOT NULL,
    quality     REAL NOT NULL,
    cal_offset  REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_readings_session ON readings(session_id);

CREATE TABLE IF NOT EXISTS calibrations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL REFERENCES sessions(id),
    completed   DATETIME NOT NULL,
    offset_x    REAL NOT NULL,
    scale_x     REAL NOT NULL,
    offset_y    REAL NOT NULL,
    scale_y     REAL NOT NULL,
    offset_z    REAL NOT NULL,
    scale_z     REAL NOT NULL
);`

const (
	insertSessionSQL = `
INSERT INTO sessions (id, start_time, transport, config)
VALUES (?, CURRENT_TIMESTAMP, ?, ?)`

	insertReadingSQL = `
INSERT INTO readings (session_id,
                      timestamp,
                      frequency,
                      real,
                      imag,
                      magnitude,
                      phase,
                      depth,
                      temperature,
                      battery,
                      quality,
                      cal_offset)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertCalibrationSQL = `
INSERT INTO calibrations (session_id,
                          completed,
                          offset_x, scale_x,
                          offset_y, scale_y,
                          offset_z, scale_z)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	countReadingsSQL = `
SELECT COUNT(*) FROM readings WHERE session_id = ?`
)
