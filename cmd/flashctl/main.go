// Command flashctl is the desktop-side tool: it resolves the device
// identity, validates a license key against the distribution service and
// downloads, unwraps and saves firmware images.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"flashgate/internal/client"
	"flashgate/internal/device"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "distribution service base URL")
	key := flag.String("key", "", "license key (XXXX-XXXX-XXXX-XXXX)")
	firmwareID := flag.String("firmware", "", "firmware ID to download after validation")
	out := flag.String("out", "", "output path for the downloaded image (defaults to <firmware>.bin)")
	mac := flag.String("mac", "", "device MAC override (AA:BB:CC:DD:EE:FF); default resolves or generates one")
	seedFile := flag.String("seed-file", defaultSeedPath(), "path persisting the generated identity seed")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *key == "" {
		fmt.Fprintln(os.Stderr, "flashctl: -key is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	id, err := resolveIdentity(ctx, *mac, *seedFile)
	if err != nil {
		logger.Error("failed to resolve device identity", slog.String("error", err.Error()))
		os.Exit(1)
	}
	fmt.Printf("Device: %s%s\n", id, generatedSuffix(id))

	api := client.NewAPI(*server, logger)

	res, err := api.ValidateLicense(ctx, *key, id)
	if err != nil {
		logger.Error("validation request failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if !res.Valid {
		fmt.Printf("License rejected: %s\n", res.Error)
		os.Exit(1)
	}
	fmt.Printf("%s\n", res.Message)

	if *firmwareID == "" {
		return
	}

	data, err := api.DownloadFirmware(ctx, *firmwareID, id)
	if err != nil {
		logger.Error("download failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	dest := *out
	if dest == "" {
		dest = *firmwareID + ".bin"
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		logger.Error("failed to write image", slog.String("error", err.Error()))
		os.Exit(1)
	}
	fmt.Printf("Saved %s (%d bytes) to %s\n", *firmwareID, len(data), dest)
}

func resolveIdentity(ctx context.Context, override, seedFile string) (device.Identity, error) {
	if override != "" {
		return device.Parse(override)
	}
	resolver := device.NewResolver(nil, &device.FileSeedStore{Path: seedFile})
	return resolver.Resolve(ctx)
}

func generatedSuffix(id device.Identity) string {
	if id.IsGenerated() {
		return " (generated)"
	}
	return ""
}

func defaultSeedPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flashgate-seed"
	}
	return filepath.Join(home, ".flashgate-seed")
}
