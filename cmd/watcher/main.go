package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/anair/spendsight/internal/classifier"
	"github.com/anair/spendsight/internal/config"
	"github.com/anair/spendsight/internal/logger"
	"github.com/anair/spendsight/internal/store"
	"github.com/anair/spendsight/internal/tokens"
	"github.com/anair/spendsight/internal/userdir"
	"github.com/anair/spendsight/internal/watcher"
)

func main() {
	cfg := config.Load()
	log := logger.New().Level(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver := userdir.NewResolver(cfg.Data.Root)
	provider := tokens.NewProvider(cfg.Data.TokensDir, cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.TokenURL)

	// The generative classifier is preferred; without an API key the
	// deterministic rules classifier still extracts debit alerts.
	var classify classifier.MessageClassifier
	if cfg.Classifier.APIKey != "" {
		gen, err := classifier.NewGeminiGenerator(ctx, cfg.Classifier.APIKey, cfg.Classifier.Model)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create classifier")
		}
		classify = classifier.New(gen, cfg.Classifier.CallTimeout, log)
	} else {
		log.Warn().Msg("No classifier API key configured - using rules classifier")
		classify = classifier.NewRules()
	}

	addresses, err := provider.ListUsers()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to enumerate credentialed users")
	}
	if len(addresses) == 0 {
		log.Fatal().Str("dir", cfg.Data.TokensDir).Msg("No credentialed users found")
	}

	var wg sync.WaitGroup
	for _, address := range addresses {
		ledgerPath, err := resolver.TransactionsPath(address)
		if err != nil {
			log.Fatal().Err(err).Str("mailbox", address).Msg("Failed to resolve user namespace")
		}
		idLogPath, err := resolver.ProcessedIDsPath(address)
		if err != nil {
			log.Fatal().Err(err).Str("mailbox", address).Msg("Failed to resolve user namespace")
		}

		w := watcher.New(
			watcher.Config{
				Address:          address,
				AlertSender:      cfg.Mailbox.AlertSender,
				IdleTimeout:      cfg.Mailbox.IdleTimeout,
				ReconnectBackoff: cfg.Mailbox.ReconnectBackoff,
				AuthFailureLimit: cfg.Mailbox.AuthFailureLimit,
				AuthCooldown:     cfg.Mailbox.AuthCooldown,
			},
			watcher.NewIMAPDialer(cfg.Mailbox.IMAPAddr),
			provider,
			classify,
			store.New(ledgerPath),
			store.NewIDLog(idLogPath),
			log,
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("mailbox", address).Msg("Starting mailbox watcher")
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("mailbox", address).Msg("Watcher stopped with error")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down watchers...")
	wg.Wait()
	log.Info().Msg("Watchers exited")
}
