package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deals/internal/config"
	"github.com/sells-group/deals/internal/store"
)

// initStore opens the store named by the config driver.
func initStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	st, err := store.Open(ctx, c.Driver, c.DatabaseURL, &store.PoolConfig{
		MaxConns: c.MaxConns,
		MinConns: c.MinConns,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "open %s store", c.Driver)
	}
	return st, nil
}
