package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"incident-registry/config"
	"incident-registry/core/appbootstrap"
)

func main() {
	var (
		configPath string
		printEnv   bool
	)
	flag.StringVar(&configPath, "config", os.Getenv("INCIDENTS_CONFIG"), "Path to YAML config (environment variables override it)")
	flag.BoolVar(&printEnv, "print-env", false, "Print the supported environment variables and exit")
	flag.Parse()

	if printEnv {
		fmt.Println(config.Usage())
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := appbootstrap.Run(ctx, cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}
