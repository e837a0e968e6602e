package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteArchive stores consolidated history blocks in SQLite so older
// conversation can be searched after it leaves the context window.
type SQLiteArchive struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteArchive opens (creating if needed) the archive database.
func OpenSQLiteArchive(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	a := &SQLiteArchive{db: db, now: time.Now}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return a, nil
}

func (a *SQLiteArchive) migrate() error {
	_, err := a.db.Exec(`
	CREATE TABLE IF NOT EXISTS history_archive (
		id         TEXT PRIMARY KEY,
		session    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		content    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_archive_created ON history_archive(created_at);
	`)
	return err
}

// Close closes the database.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

// Append stores one block. The session comes from WithSession.
func (a *SQLiteArchive) Append(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO history_archive (id, session, created_at, content) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), SessionFromContext(ctx), a.now().UTC().Format(timeLayout), text,
	)
	if err != nil {
		return fmt.Errorf("archive history: %w", err)
	}
	return nil
}

// Search returns blocks containing query (case-insensitive for ASCII),
// newest first.
func (a *SQLiteArchive) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, session, created_at, content FROM history_archive
		 WHERE content LIKE ? ESCAPE '\'
		 ORDER BY created_at DESC LIMIT ?`,
		"%"+escapeLike(query)+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search archive: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var created string
		if err := rows.Scan(&r.ID, &r.Session, &created, &r.Content); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		r.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of archived blocks.
func (a *SQLiteArchive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history_archive`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count archive: %w", err)
	}
	return n, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
