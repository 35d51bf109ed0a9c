// Package docstore keeps one JSON document per (company, report year) for
// downstream read paths. It is optional and sits beside the relational store.
package docstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-extract/internal/config"
	"github.com/sells-group/esg-extract/internal/db"
	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/resilience"
)

// Document is the per-report view written after the relational commit.
type Document struct {
	CompanyID       string                       `json:"company_id"`
	CompanyName     string                       `json:"company_name,omitempty"`
	ReportYear      int                          `json:"report_year"`
	RunID           string                       `json:"run_id"`
	PipelineVersion string                       `json:"pipeline_version"`
	UpdatedAt       time.Time                    `json:"updated_at"`
	Metrics         []model.NormalizedMetric     `json:"metrics"`
	Commitments     []model.NormalizedCommitment `json:"commitments"`
}

// Store reads and writes report documents.
type Store interface {
	Put(ctx context.Context, doc *Document) error
	// Get returns ErrNotFound when no live document exists.
	Get(ctx context.Context, companyID string, reportYear int) (*Document, error)
	Close() error
}

// ErrNotFound is returned by Get for missing or expired documents.
var ErrNotFound = eris.New("docstore: not found")

// Open builds the configured document store. It returns nil, nil when the
// document store is disabled. pool is required for the postgres driver.
func Open(ctx context.Context, cfg config.DocStoreConfig, rcfg config.RedisConfig, pool db.Pool) (Store, error) {
	ttl := time.Duration(cfg.TTLHours) * time.Hour
	switch cfg.Driver {
	case "":
		return nil, nil
	case "postgres":
		if pool == nil {
			return nil, resilience.NewConfigError(eris.New("docstore: postgres driver needs a postgres relational store"))
		}
		return NewPostgres(pool, ttl), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     rcfg.Addr,
			Password: rcfg.Password,
			DB:       rcfg.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "docstore: connect to redis at %s", rcfg.Addr)
		}
		return NewRedis(rdb, ttl), nil
	default:
		return nil, resilience.NewConfigError(eris.Errorf("docstore: unknown driver %q", cfg.Driver))
	}
}

func nonNilItems(doc *Document) {
	if doc.Metrics == nil {
		doc.Metrics = []model.NormalizedMetric{}
	}
	if doc.Commitments == nil {
		doc.Commitments = []model.NormalizedCommitment{}
	}
}
