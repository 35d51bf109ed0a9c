package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-extract/internal/db"
	"github.com/sells-group/esg-extract/internal/store"
)

// defaultSQLitePath is used when the sqlite driver has no database_url.
const defaultSQLitePath = "esg.db"

// initStore opens the configured relational store and applies pending
// migrations. Callers own the returned store.
func initStore(ctx context.Context) (store.Store, error) {
	scfg := cfg.Store
	if scfg.Driver == "sqlite" && scfg.DatabaseURL == "" {
		scfg.DatabaseURL = defaultSQLitePath
	}

	st, err := store.Open(ctx, scfg)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// storePool exposes the pgx pool behind a Postgres store so the JSONB
// document store can share it. It is nil for other backends.
func storePool(st store.Store) db.Pool {
	if ps, ok := st.(*store.PostgresStore); ok {
		return ps.Pool()
	}
	return nil
}
