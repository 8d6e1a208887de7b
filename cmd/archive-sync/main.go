package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/anair/spendsight/internal/archive"
	"github.com/anair/spendsight/internal/classifier"
	"github.com/anair/spendsight/internal/config"
	"github.com/anair/spendsight/internal/drive"
	"github.com/anair/spendsight/internal/ingest"
	"github.com/anair/spendsight/internal/logger"
	"github.com/anair/spendsight/internal/tokens"
	"github.com/anair/spendsight/internal/userdir"
)

func main() {
	cfg := config.Load()
	log := logger.New().Level(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver := userdir.NewResolver(cfg.Data.Root)
	provider := tokens.NewProvider(cfg.Data.TokensDir, cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.TokenURL)

	var pipeline *ingest.Pipeline
	if cfg.Classifier.APIKey != "" {
		gen, err := classifier.NewGeminiGenerator(ctx, cfg.Classifier.APIKey, cfg.Classifier.Model)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create classifier")
		}
		cls := classifier.New(gen, cfg.Classifier.CallTimeout, log)
		parser := archive.NewParser(cfg.Classifier.BatchSize)
		pipeline = ingest.New(resolver, parser, cls, log)
	} else {
		log.Warn().Msg("No classifier API key configured - archives will be pulled but not ingested")
	}

	users, err := provider.ListUsers()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to enumerate credentialed users")
	}
	if len(users) == 0 {
		log.Fatal().Str("dir", cfg.Data.TokensDir).Msg("No credentialed users found")
	}

	var trigger drive.IngestFunc
	if pipeline != nil {
		trigger = func(ctx context.Context, userID string) error {
			_, err := pipeline.Run(ctx, userID)
			return err
		}
	}

	var wg sync.WaitGroup
	for _, user := range users {
		client, err := provider.Client(ctx, user)
		if err != nil {
			log.Error().Err(err).Str("user", user).Msg("Skipping user without usable credential")
			continue
		}
		archiveStore, err := drive.NewDriveStore(ctx, client)
		if err != nil {
			log.Fatal().Err(err).Str("user", user).Msg("Failed to create archive store")
		}

		syncer := drive.NewSyncer(archiveStore, resolver, cfg.Drive.FolderName, cfg.Drive.PollInterval, trigger, log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("user", user).Str("folder", cfg.Drive.FolderName).Msg("Starting archive sync")
			if err := syncer.Run(ctx, user); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("user", user).Msg("Archive sync stopped with error")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down archive sync...")
	wg.Wait()
	log.Info().Msg("Archive sync exited")
}
