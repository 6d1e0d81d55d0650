// Package main is the entry point for the TWS bridge daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"tws-bridge/internal/app"
	"tws-bridge/internal/config"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file (empty for defaults)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	if err := app.New(cfg).Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "twsbridged: %v\n", err)
		os.Exit(1)
	}
}
