package main

import (
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"

	"PulseBoard/internal/di"
	"PulseBoard/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	path := *configPath
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		log.Printf("config %s not found, using defaults and environment", path)
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("env=%s instance=%s storage=%s kafka=%v clickhouse=%v",
		cfg.Environment, cfg.InstanceID, cfg.Storage.Driver, cfg.Kafka.Enabled, cfg.ClickHouse.Enabled)

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run blocks until SIGINT/SIGTERM.
	runErr := app.Run()
	cleanup()
	if runErr != nil {
		log.Printf("app error: %v", runErr)
		os.Exit(1)
	}
}
