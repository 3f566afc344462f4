package main

import (
	"context"
	"fmt"
	"time"

	"github.com/peternagy/mongostate/internal/config"
	"github.com/peternagy/mongostate/internal/credential"
	"github.com/peternagy/mongostate/internal/debug"
	"github.com/peternagy/mongostate/internal/detector"
	"github.com/peternagy/mongostate/internal/metrics"
	"github.com/peternagy/mongostate/internal/storage"
	"github.com/peternagy/mongostate/internal/types"
)

// =============================================================================
// Type Re-exports
// =============================================================================

type DetectionResult = types.DetectionResult
type Report = types.Report
type SavedReport = storage.SavedReport
type Options = config.Options

// =============================================================================
// App - Thin Facade over the detector and its stores
// =============================================================================

// App holds the services a CLI invocation needs.
type App struct {
	log       *debug.Logger
	detector  *detector.Detector
	metrics   *metrics.Metrics
	keyring   *credential.Keyring
	storage   *storage.Service
	configDir string
}

// NewApp creates an App using the real dialer, prober and service manager.
func NewApp(log *debug.Logger) *App {
	return newApp(log, detector.Deps{}, "")
}

// newApp lets tests swap collaborators. An empty configDir means the user
// config directory, created on first use.
func newApp(log *debug.Logger, deps detector.Deps, configDir string) *App {
	if log == nil {
		log = debug.Discard()
	}
	m := metrics.New(true)
	if deps.Recorder == nil {
		deps.Recorder = m
	}
	deps.Log = log

	a := &App{
		log:       log,
		detector:  detector.New(deps),
		metrics:   m,
		keyring:   credential.NewKeyring(),
		configDir: configDir,
	}
	if configDir != "" {
		a.storage = storage.NewService(configDir)
	}
	return a
}

// reports returns the report store, creating the config directory on first use.
func (a *App) reports() (*storage.Service, error) {
	if a.storage != nil {
		return a.storage, nil
	}
	dir, err := storage.InitConfigDir()
	if err != nil {
		return nil, err
	}
	a.configDir = dir
	a.storage = storage.NewService(dir)
	return a.storage, nil
}

// =============================================================================
// Detection Methods
// =============================================================================

// Detect runs one detection.
func (a *App) Detect(ctx context.Context, opts Options) (DetectionResult, error) {
	return a.detector.Detect(ctx, opts)
}

// ResolvePassword fills opts.AdminPassword from the keyring entry for
// account when no password was given. The account doubles as the admin user
// when none is set.
func (a *App) ResolvePassword(opts *Options, account string) error {
	if account == "" || opts.AdminPassword != "" {
		return nil
	}
	password, err := a.keyring.GetPassword(account)
	if err != nil {
		return fmt.Errorf("failed to read keyring entry %q: %w", account, err)
	}
	if password == "" {
		a.log.Warn(debug.CategoryConfig, "no password stored for keyring account", map[string]interface{}{
			"account": account,
		})
		return nil
	}
	opts.AdminPassword = password
	if opts.AdminUser == "" {
		opts.AdminUser = account
	}
	return nil
}

// =============================================================================
// Report Storage Methods
// =============================================================================

// SaveReport persists the report of a run.
func (a *App) SaveReport(r DetectionResult, opts Options) error {
	svc, err := a.reports()
	if err != nil {
		return err
	}
	return svc.SaveReport(SavedReport{
		RunID:   r.RunID,
		SavedAt: time.Now().UTC(),
		Host:    opts.Host,
		Port:    opts.Port,
		Report:  r.Report(),
	})
}

// LastReport returns the most recently saved report.
func (a *App) LastReport() (*SavedReport, error) {
	svc, err := a.reports()
	if err != nil {
		return nil, err
	}
	return svc.LoadLastReport()
}

// History returns saved reports, oldest first.
func (a *App) History() ([]SavedReport, error) {
	svc, err := a.reports()
	if err != nil {
		return nil, err
	}
	return svc.LoadHistory()
}

// =============================================================================
// Keyring Methods
// =============================================================================

// StorePassword saves an admin password for account.
func (a *App) StorePassword(account, password string) error {
	return a.keyring.SetPassword(account, password)
}

// DeletePassword removes the stored password for account.
func (a *App) DeletePassword(account string) error {
	return a.keyring.DeletePassword(account)
}

// =============================================================================
// Metrics Methods
// =============================================================================

// WriteMetrics writes the metrics of this process in textfile format.
func (a *App) WriteMetrics(path string) error {
	if err := a.metrics.WriteTextfile(path); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
