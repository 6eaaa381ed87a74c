//go:build wireinject
// +build wireinject

package wire

import (
	"context"

	"github.com/google/wire"

	"github.com/sevigo/pr-warden/internal/app"
)

// InitializeApp builds the webhook server, its worker pool and the sweeper.
func InitializeApp(ctx context.Context) (*app.App, func(), error) {
	wire.Build(ServerSet)
	return &app.App{}, nil, nil
}

// InitializeTools builds the components the operator CLIs use.
func InitializeTools(ctx context.Context) (*app.Tools, func(), error) {
	wire.Build(ToolsSet)
	return &app.Tools{}, nil, nil
}
