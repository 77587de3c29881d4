package journal

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// PostgresJournal persists attempt entries in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE payment_attempts (
//	    id          TEXT PRIMARY KEY,
//	    user_id     TEXT NOT NULL,
//	    method      TEXT NOT NULL,
//	    status      TEXT NOT NULL,
//	    purchase_id TEXT,
//	    amount      NUMERIC NOT NULL,
//	    last_error  TEXT,
//	    created_at  TIMESTAMPTZ NOT NULL
//	);
type PostgresJournal struct {
	db *sql.DB
}

func NewPostgresJournal(db *sql.DB) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func (p *PostgresJournal) Record(ctx context.Context, entry Entry) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO payment_attempts (id, user_id, method, status, purchase_id, amount, last_error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID,
		entry.UserID,
		entry.Method,
		entry.Status,
		nullable(entry.PurchaseID),
		entry.Amount,
		nullable(entry.LastError),
		entry.CreatedAt,
	)
	return err
}

func (p *PostgresJournal) ListUnsettled(ctx context.Context) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, user_id, method, status, COALESCE(purchase_id, ''), amount, COALESCE(last_error, ''), created_at
		 FROM payment_attempts
		 WHERE status = 'purchase_created_unsettled'
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Method, &e.Status, &e.PurchaseID, &e.Amount, &e.LastError, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
