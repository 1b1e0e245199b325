package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/presencesync/presenced/internal/config"
	"github.com/presencesync/presenced/internal/daemon"
	"github.com/presencesync/presenced/internal/paths"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default: <data_dir>/config.toml)")
	dataDirFlag := flag.String("data-dir", "", "data directory (overrides config)")
	flag.Parse()

	dataDir := *dataDirFlag
	if dataDir == "" {
		dataDir = paths.DefaultDataDir()
	}
	configPath := *configFlag
	if configPath == "" {
		configPath = paths.ConfigPath(dataDir)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *dataDirFlag != "" {
		cfg.DataDir = *dataDirFlag
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}

	app := fx.New(
		daemon.Module(cfg),
	)

	app.Run()
}
