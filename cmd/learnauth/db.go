package main

import (
	"context"

	auth "github.com/goliatone/go-learner-auth"
	"github.com/uptrace/bun"
)

func (a *app) withDB(ctx context.Context, fn func(context.Context, *bun.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := auth.OpenDB(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, db)
}
