//go:build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"killswitch/internal/config"
)

func buildAppWithWire(ctx context.Context, cfg *config.Config) (*App, error) {
	wire.Build(
		NewAppBuilder,
		provideAppFromBuilder,
	)
	return nil, nil
}
