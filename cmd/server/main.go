package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"flashgate/internal/app"
	"flashgate/internal/config"
	"flashgate/internal/kv"
	"flashgate/internal/license"
)

func main() {
	configFile := flag.String("config", "", "path to config file (defaults to config.yaml next to the binary)")
	provision := flag.String("provision", "", "provision a license key in the registry and exit")
	unlimited := flag.Bool("unlimited", false, "with -provision, mark the key as unlimited")
	flag.Parse()

	if *provision != "" {
		if err := provisionKey(*configFile, *provision, *unlimited); err != nil {
			slog.Error("Failed to provision key", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	application, err := app.NewApplication(*configFile)
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// provisionKey writes a key into the registry store without starting
// the server.
func provisionKey(configFile, rawKey string, unlimited bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	key := license.NormalizeKey(rawKey)
	if !license.ValidKeyFormat(key) {
		return fmt.Errorf("invalid key format: %q", rawKey)
	}

	store, err := kv.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := license.NewRegistryKeySource(store).Provision(context.Background(), key, unlimited); err != nil {
		return err
	}
	fmt.Printf("Provisioned %s (unlimited=%v)\n", key, unlimited)
	return nil
}
