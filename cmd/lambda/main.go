package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/charmbracelet/log"

	"github.com/stefando/mediaupload/internal/api"
	"github.com/stefando/mediaupload/internal/config"
	"github.com/stefando/mediaupload/internal/gateway"
	"github.com/stefando/mediaupload/internal/logging"
	"github.com/stefando/mediaupload/internal/storage"
	"github.com/stefando/mediaupload/internal/upload"
)

// newAdapter builds the router once per cold start. Configuration comes
// from the environment only; MEDIAUPLOAD_CONFIG may point at a bundled file.
func newAdapter(ctx context.Context) (*gateway.Adapter, *log.Logger, error) {
	cfg, err := config.Load(os.Getenv("MEDIAUPLOAD_CONFIG"))
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format).With("runtime", "lambda")

	store, err := storage.NewClient(ctx, cfg.Storage)
	if err != nil {
		return nil, logger, err
	}
	svc := upload.NewService(upload.ConfigFrom(cfg), store, logger)

	// metrics are scraped from the long running server only; API Gateway
	// and CloudWatch cover the function
	router := api.NewRouter(svc, api.Options{
		Logger:       logger,
		MaxPartBytes: cfg.Upload.MaxPartBytes,
	})

	logger.Info("handler initialized", "bucket", cfg.Storage.Bucket, "prefix", cfg.Upload.Prefix)
	return gateway.New(router, logger), logger, nil
}

func main() {
	adapter, logger, err := newAdapter(context.Background())
	if err != nil {
		if logger == nil {
			logger = logging.New(os.Stderr, "info", "json")
		}
		logger.Fatal("failed to initialize", "err", err)
	}
	lambda.Start(adapter.Handle)
}
