package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/shizukutanaka/Kagami/internal/mining"
)

const schema = `
CREATE TABLE IF NOT EXISTS shares (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT    NOT NULL,
	job_id     INTEGER NOT NULL,
	remote_id  TEXT    NOT NULL,
	nonce      INTEGER NOT NULL,
	digest     TEXT    NOT NULL,
	accepted   INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_shares_session ON shares(session_id);
`

// Ledger records every submitted share and its upstream verdict in a local
// sqlite database for post-run audit. Implements mining.ShareRecorder.
type Ledger struct {
	db        *sql.DB
	sessionID string
}

func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open share ledger %s: %w", path, err)
	}
	// One writer, low volume; a second connection only invites lock errors.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init share ledger schema: %w", err)
	}
	return &Ledger{db: db, sessionID: uuid.NewString()}, nil
}

// SessionID identifies this mining run in the ledger.
func (l *Ledger) SessionID() string { return l.sessionID }

func (l *Ledger) Record(ctx context.Context, share *mining.Share, accepted bool) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO shares (session_id, job_id, remote_id, nonce, digest, accepted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.sessionID,
		share.JobID,
		share.RemoteID,
		int64(share.Nonce),
		hex.EncodeToString(share.Digest[:]),
		accepted,
		time.Now().UTC(),
	)
	return err
}

// Totals returns accepted and rejected counts for the current session.
func (l *Ledger) Totals(ctx context.Context) (accepted, rejected uint64, err error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN accepted THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN accepted THEN 0 ELSE 1 END), 0)
		 FROM shares WHERE session_id = ?`, l.sessionID)
	err = row.Scan(&accepted, &rejected)
	return accepted, rejected, err
}

func (l *Ledger) Close() error { return l.db.Close() }
