package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// redisClient is the part of *redis.Client the store uses.
type redisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// RedisStore keeps documents as JSON strings under "esg:doc:<company>:<year>".
type RedisStore struct {
	rdb redisClient
	ttl time.Duration
	now func() time.Time
}

// NewRedis returns a redis document store. A zero ttl never expires.
func NewRedis(rdb redisClient, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl, now: time.Now}
}

func docKey(companyID string, reportYear int) string {
	return fmt.Sprintf("esg:doc:%s:%d", companyID, reportYear)
}

func (s *RedisStore) Put(ctx context.Context, doc *Document) error {
	nonNilItems(doc)
	doc.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "docstore: marshal document")
	}

	key := docKey(doc.CompanyID, doc.ReportYear)
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return eris.Wrapf(err, "docstore: set %s", key)
	}
	zap.L().Debug("docstore: document written", zap.String("key", key), zap.Duration("ttl", s.ttl))
	return nil
}

func (s *RedisStore) Get(ctx context.Context, companyID string, reportYear int) (*Document, error) {
	key := docKey(companyID, reportYear)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, eris.Wrapf(ErrNotFound, "docstore: %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "docstore: get %s", key)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "docstore: unmarshal document")
	}
	return &doc, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
