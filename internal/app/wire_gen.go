//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject

package app

import (
	"context"

	"quorum/internal/config"
)

func buildAppWithWire(ctx context.Context, cfg *config.Config, path string, opts []AppBuilderOption) (*App, error) {
	appBuilder := provideAppBuilder(cfg, path, opts)
	app, err := provideAppFromBuilder(appBuilder, ctx)
	if err != nil {
		return nil, err
	}
	return app, nil
}
