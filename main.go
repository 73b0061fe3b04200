// Package main implements a Cloud Run service that scans Shopify orders in a
// configurable age window and writes cross-sell recommendations back to
// eligible customers as metafields and a trigger tag.
package main

import (
	"context"
	"log/slog"
	"os"

	gcs "cloud.google.com/go/storage"

	"crosssell-scanner/config"
	"crosssell-scanner/scan"
	"crosssell-scanner/server"
	"crosssell-scanner/shopify"
	"crosssell-scanner/storage"
)

func main() {
	ctx := context.Background()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	shop, err := shopify.New(ctx, &shopify.Config{
		StoreURL:     cfg.Shopify.StoreURL,
		AccessToken:  cfg.Shopify.AccessToken,
		ClientID:     cfg.Shopify.ClientID,
		ClientSecret: cfg.Shopify.ClientSecret,
		Pause:        cfg.Shopify.RequestPause,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("Failed to initialize Shopify client", "error", err)
		os.Exit(1)
	}

	localPath := cfg.Reports.LocalPath
	bucket := cfg.Reports.Bucket

	// Default to local development mode if no bucket specified
	if bucket == "" && localPath == "" {
		localPath = "./data"
		logger.Info("No REPORT_BUCKET set, defaulting to local development mode", "reports_path", localPath)
	}

	var gcsClient *gcs.Client
	if localPath != "" {
		if err := os.MkdirAll(localPath, 0o755); err != nil {
			logger.Error("Failed to create local reports directory", "error", err)
			os.Exit(1)
		}
	} else {
		gcsClient, err = gcs.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := gcsClient.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
	}

	reports := storage.New(gcsClient, bucket, localPath, logger)
	runner := scan.New(shop, reports, logger)

	srv := server.New(&server.Config{
		Runner:   runner,
		Reports:  reports,
		Resolver: shop,
		Logger:   logger,
		ScanOpts: scan.Options{
			DaysStart:     cfg.Scan.DaysStart,
			DaysEnd:       cfg.Scan.DaysEnd,
			CollectionIDs: cfg.Scan.CollectionIDs,
			DryRun:        cfg.Scan.DryRun,
		},
	})

	if err := srv.ListenAndServe(cfg.Server.Address(), cfg.Server.ReadTimeout, cfg.Server.WriteTimeout); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
