package main

import (
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nhle/novel-notify/internal/api"
	"github.com/nhle/novel-notify/internal/app"
	"github.com/nhle/novel-notify/internal/credential"
	"github.com/nhle/novel-notify/internal/logging"
	"github.com/nhle/novel-notify/internal/model"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "novelnotify:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", model.DefaultConfigPath(), "path to the YAML config file")
	baseURL := pflag.String("base-url", "", "platform root URL (overrides the config file)")
	logLevel := pflag.String("log-level", "", "log level: debug, info, warn or error")
	pflag.Parse()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *baseURL != "" {
		cfg.Server.BaseURL = *baseURL
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting novelnotify",
		zap.String("config", *configPath),
		zap.String("base_url", cfg.Server.BaseURL),
	)

	store, err := credential.Open()
	if err != nil {
		// Environment credentials still work without a keyring.
		log.Warn("keyring unavailable", zap.Error(err))
		store = nil
	}

	var creds *api.Credentials
	loaded, err := store.Load(cfg.Server.BaseURL)
	switch {
	case err == nil:
		creds = &loaded
	case errors.Is(err, credential.ErrNotFound):
		log.Info("no stored session, opening setup")
	default:
		log.Warn("loading credentials", zap.Error(err))
	}

	root := app.New(app.Options{
		Config:      *cfg,
		ConfigPath:  *configPath,
		Credentials: creds,
		Store:       store,
		Logger:      log,
	})

	p := tea.NewProgram(root, tea.WithAltScreen(), tea.WithReportFocus())
	final, err := p.Run()
	if m, ok := final.(app.Model); ok {
		m.Close()
	}
	if err != nil {
		return fmt.Errorf("running program: %w", err)
	}

	log.Info("novelnotify stopped")
	return nil
}
