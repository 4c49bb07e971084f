package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

const ddlTranscriptions = `
CREATE TABLE IF NOT EXISTS transcriptions (
    id                UUID         PRIMARY KEY,
    session_id        TEXT         NOT NULL DEFAULT '',
    text              TEXT         NOT NULL,
    raw_text          TEXT         NOT NULL DEFAULT '',
    source            TEXT         NOT NULL DEFAULT '',
    corrected         BOOLEAN      NOT NULL DEFAULT false,
    detected_language TEXT         NOT NULL DEFAULT '',
    used_language     TEXT         NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcriptions_created_at
    ON transcriptions (created_at DESC);
`

// Postgres is a Store backed by a transcriptions table.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects to dsn, checks the connection and creates the table
// if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlTranscriptions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Append implements Store.
func (p *Postgres) Append(ctx context.Context, e Entry) error {
	e = prepare(e)
	const q = `
		INSERT INTO transcriptions
		    (id, session_id, text, raw_text, source, corrected, detected_language, used_language, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := p.pool.Exec(ctx, q,
		e.ID,
		e.SessionID,
		e.Text,
		e.RawText,
		e.Source,
		e.Corrected,
		string(e.DetectedLanguage),
		string(e.UsedLanguage),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Recent implements Store.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]Entry, error) {
	q := `
		SELECT id, session_id, text, raw_text, source, corrected, detected_language, used_language, created_at
		FROM   transcriptions
		ORDER  BY created_at DESC`
	var args []any
	if limit > 0 {
		q += "\nLIMIT $1"
		args = append(args, limit)
	}
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e                Entry
			detected, usedAs string
		)
		if err := row.Scan(&e.ID, &e.SessionID, &e.Text, &e.RawText, &e.Source, &e.Corrected,
			&detected, &usedAs, &e.CreatedAt); err != nil {
			return Entry{}, err
		}
		e.DetectedLanguage = types.LanguageCode(detected)
		e.UsedLanguage = types.LanguageCode(usedAs)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan: %w", err)
	}
	return entries, nil
}

// Clear implements Store.
func (p *Postgres) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM transcriptions`); err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
