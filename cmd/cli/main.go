package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/avelt/photovault/internal/client/cli"
	"github.com/avelt/photovault/internal/client/config"
	"github.com/avelt/photovault/internal/logging"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := logging.NewSlogLogger(slog.New(h))

	app, err := cli.NewApp(cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)
}
