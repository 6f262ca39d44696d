package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const createProcessedMessages = `CREATE TABLE IF NOT EXISTS processed_messages (
	message_id   TEXT PRIMARY KEY,
	message_type TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL
)`

// DBTX is the subset of *sql.DB the Postgres store needs.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Postgres struct {
	db    DBTX
	close func() error
}

// OpenPostgres connects to databaseURL, checks the connection and creates
// the processed_messages table if needed. The returned store owns the
// connection pool.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, createProcessedMessages); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating processed_messages: %w", err)
	}

	p := NewPostgres(db)
	p.close = db.Close
	return p, nil
}

// NewPostgres uses an existing connection; Close leaves it open.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM processed_messages WHERE message_id = $1)",
		messageID,
	).Scan(&exists)
	return exists, err
}

func (p *Postgres) MarkProcessed(ctx context.Context, messageID, messageType string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO processed_messages (message_id, message_type, processed_at)
         VALUES ($1, $2, $3)
         ON CONFLICT (message_id) DO NOTHING`,
		messageID, messageType, time.Now(),
	)
	return err
}

func (p *Postgres) Cleanup(ctx context.Context, olderThan time.Duration) error {
	_, err := p.db.ExecContext(ctx,
		"DELETE FROM processed_messages WHERE processed_at < $1",
		time.Now().Add(-olderThan),
	)
	return err
}

func (p *Postgres) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}
