package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ObiAU/mentionfeed/internal/aggregator"
	"github.com/ObiAU/mentionfeed/internal/ai"
	"github.com/ObiAU/mentionfeed/internal/config"
	"github.com/ObiAU/mentionfeed/internal/metrics"
	"github.com/ObiAU/mentionfeed/internal/models"
	"github.com/ObiAU/mentionfeed/internal/relay"
	"github.com/ObiAU/mentionfeed/internal/slack"
	"github.com/ObiAU/mentionfeed/internal/sources"
	"github.com/ObiAU/mentionfeed/internal/storage"
	"github.com/ObiAU/mentionfeed/internal/telegram"
)

// app holds everything a command needs, built from configuration.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      storage.Store
	metrics    *metrics.Recorder
	aggregator *aggregator.Aggregator
	closers    []func() error
}

// newApp loads configuration, opens storage and wires adapters and notifiers.
func newApp(ctx context.Context, configPath, logLevel string) (*app, error) {
	a, err := openApp(ctx, configPath, logLevel, false)
	if err != nil {
		return nil, err
	}

	adapters, err := buildAdapters(a.cfg, a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	notifiers, err := a.buildNotifiers()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.aggregator = aggregator.New(a.cfg, a.store, adapters, notifiers, a.metrics, a.logger)
	return a, nil
}

// openApp loads configuration and opens storage. Read-only commands skip
// validation of source settings and open storage without bootstrapping it.
func openApp(ctx context.Context, configPath, logLevel string, readOnly bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if !readOnly {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	store, err := storage.Open(ctx, storage.Config{
		DataDir:     cfg.DataDir,
		DatabaseURL: cfg.DatabaseURL,
		MirrorPath:  cfg.MirrorPath,
		ReadOnly:    readOnly,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		metrics: metrics.NewRecorder(),
		closers: []func() error{store.Close},
	}, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildAdapters(cfg *config.Config, logger *slog.Logger) ([]models.Adapter, error) {
	var adapters []models.Adapter

	for _, name := range cfg.Sources {
		switch name {
		case config.SourceReddit:
			adapters = append(adapters, sources.NewRedditClient(sources.RedditConfig{
				Query: cfg.SourceQuery(config.SourceReddit),
				Limit: cfg.RedditLimit,
			}))
		case config.SourceGitHub:
			if cfg.GitHubToken == "" {
				logger.Warn("GITHUB_TOKEN is not set, github searches will fail")
			}
			adapters = append(adapters, sources.NewGitHubClient(sources.GitHubConfig{
				Token: cfg.GitHubToken,
				Query: cfg.SourceQuery(config.SourceGitHub),
				Limit: cfg.GitHubLimit,
			}))
		case config.SourceBluesky:
			client, err := sources.NewBlueskyClient(sources.BlueskyConfig{
				JetstreamURL: cfg.JetstreamURL,
				Keywords:     cfg.Keywords(),
				Langs:        cfg.BlueskyLangs,
				Lookback:     cfg.BlueskyLookback,
				Window:       cfg.BlueskyWindow,
				Limit:        cfg.BlueskyLimit,
			}, logger.With("source", config.SourceBluesky))
			if err != nil {
				return nil, err
			}
			adapters = append(adapters, client)
		}
	}

	return adapters, nil
}

func (a *app) buildNotifiers() ([]models.Notifier, error) {
	cfg := a.cfg
	var notifiers []models.Notifier

	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, slack.NewNotifier(cfg.SlackWebhookURL, cfg.SlackChannel, cfg.NotifyDelay, a.logger.With("notifier", "slack")))
	} else {
		a.logger.Info("skipping slack notifications, no webhook configured")
	}

	if cfg.TelegramToken != "" {
		var summarizer telegram.Summarizer
		if cfg.OpenAIAPIKey != "" {
			summarizer = ai.NewSummarizer(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		}
		bot, err := telegram.NewBot(cfg.TelegramToken, cfg.TelegramChatID, summarizer, a.logger.With("notifier", "telegram"))
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, bot)
	}

	if cfg.NATSURL != "" {
		publisher, err := relay.Connect(cfg.NATSURL, cfg.NATSSubject, a.logger.With("notifier", "nats"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, publisher.Close)
		notifiers = append(notifiers, publisher)
	}

	return notifiers, nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
