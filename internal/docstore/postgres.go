package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-extract/internal/db"
)

// PostgresStore keeps documents in the report_documents JSONB table, which
// the relational migrations create.
type PostgresStore struct {
	pool db.Pool
	ttl  time.Duration
	now  func() time.Time
}

// NewPostgres returns a JSONB document store. A zero ttl never expires.
func NewPostgres(pool db.Pool, ttl time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, ttl: ttl, now: time.Now}
}

func (s *PostgresStore) Put(ctx context.Context, doc *Document) error {
	nonNilItems(doc)
	now := s.now().UTC()
	doc.UpdatedAt = now
	data, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "docstore: marshal document")
	}

	var expires *time.Time
	if s.ttl > 0 {
		t := now.Add(s.ttl)
		expires = &t
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO report_documents (company_id, report_year, run_id, document, updated_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (company_id, report_year) DO UPDATE SET
			run_id = EXCLUDED.run_id, document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at`,
		doc.CompanyID, doc.ReportYear, doc.RunID, data, now, expires,
	)
	return eris.Wrapf(err, "docstore: put %s/%d", doc.CompanyID, doc.ReportYear)
}

func (s *PostgresStore) Get(ctx context.Context, companyID string, reportYear int) (*Document, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM report_documents
		 WHERE company_id = $1 AND report_year = $2 AND (expires_at IS NULL OR expires_at > now())`,
		companyID, reportYear,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "docstore: %s/%d", companyID, reportYear)
		}
		return nil, eris.Wrapf(err, "docstore: get %s/%d", companyID, reportYear)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "docstore: unmarshal document")
	}
	return &doc, nil
}

// Close is a no-op; the pool belongs to the relational store.
func (s *PostgresStore) Close() error { return nil }
