package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
	"github.com/eliteGoblin/focusd/class_mon/internal/infra"
	"github.com/eliteGoblin/focusd/class_mon/internal/policy"
	"github.com/eliteGoblin/focusd/class_mon/internal/usecase"
)

const (
	alertQueueSize = 32
	dataDirEnv     = "CLASSMON_DATA_DIR"
)

// app holds everything a command or daemon needs, wired from the config.
type app struct {
	mode   *infra.ExecModeConfig
	cfg    *infra.Config
	logger *zap.Logger
	clock  infra.SystemClock

	pm    domain.ProcessManager
	store *infra.EncryptedStore
	table *policy.Table

	prefs      *usecase.Preferences
	machine    *usecase.LockdownMachine
	monitor    *usecase.PermissionMonitor
	classifier *usecase.ForegroundClassifier
	merger     *usecase.CommandMerger
	enforcer   *usecase.Enforcer
	syncer     *usecase.Syncer
}

// loadConfig resolves the exec mode and reads the configuration.
func loadConfig() (*infra.ExecModeConfig, *infra.Config, error) {
	mode := infra.DetectExecMode()
	dir := dataDirFlag
	if dir == "" {
		dir = os.Getenv(dataDirEnv)
	}
	if dir != "" {
		mode = mode.WithDataDir(dir)
		// Self-exec'd daemons inherit the relocated layout.
		os.Setenv(dataDirEnv, dir)
	}
	cfg, err := infra.LoadConfig(mode)
	if err != nil {
		return nil, nil, err
	}
	return mode, cfg, nil
}

// newApp opens the encrypted store and builds the use cases.
func newApp() (*app, error) {
	mode, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := createLogger(cfg.LogPath)

	key, err := infra.EnsureKey(infra.NewFileKeyProvider(cfg.DataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to load store key: %w", err)
	}
	pm := infra.NewProcessManager()
	store, err := infra.OpenEncryptedStore(cfg.DataDir, key, pm)
	if err != nil {
		return nil, err
	}

	table, err := policy.LoadTable(cfg.TablePath)
	if err != nil {
		store.Close()
		return nil, err
	}
	table.SetSelf(cfg.SelfPackage)

	a := &app{
		mode:   mode,
		cfg:    cfg,
		logger: logger,
		pm:     pm,
		store:  store,
		table:  table,
	}

	a.prefs = usecase.NewPreferences(store, store, table.DefaultAllowList(), logger)
	a.machine = usecase.NewLockdownMachine(a.prefs, a.clock, usecase.PenaltyConfig{
		Step:   cfg.PenaltyStep,
		Cap:    cfg.PenaltyCap,
		Window: cfg.PenaltyWindow,
	}, logger)
	prober := infra.NewCommandProber(cfg.ProbeCommands, cfg.ProbeTimeout, logger)
	a.monitor = usecase.NewPermissionMonitor(prober, a.prefs, a.machine, logger)
	a.classifier = usecase.NewForegroundClassifier(table, a.prefs, a.machine, a.clock, usecase.GraceConfig{
		Startup:       cfg.StartupGrace,
		Settings:      cfg.SettingsGrace,
		PostSelf:      cfg.PostSelfGrace,
		BlockCooldown: cfg.BlockCooldown,
	}, logger)
	a.merger = usecase.NewCommandMerger(a.prefs, a.machine, a.clock, logger)
	presenter := infra.NewCommandPresenter(cfg.OverlayCommand, logger)
	a.enforcer = usecase.NewEnforcer(a.classifier, a.monitor, presenter, a.clock, alertQueueSize, logger)
	a.syncer = usecase.NewSyncer(infra.NewHTTPSyncClient(a.serverURL()), a.prefs, a.monitor, a.machine, a.merger,
		infra.NewHostDeviceInfo(), a.clock, usecase.SyncConfig{
			NormalInterval: cfg.Heartbeat,
			AlertInterval:  cfg.AlertHeartbeat,
		}, logger)
	return a, nil
}

// serverURL prefers the enrolled server over the configured default.
func (a *app) serverURL() string {
	if u := a.prefs.ServerURL(); u != "" {
		return u
	}
	return a.cfg.ServerURL
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// createLogger writes ISO8601 JSON logs to path, falling back to stderr.
func createLogger(path string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if path != "" && os.MkdirAll(filepath.Dir(path), 0755) == nil {
		config.OutputPaths = []string{path}
		config.ErrorOutputPaths = []string{path}
	} else {
		config.OutputPaths = []string{"stderr"}
	}

	logger, err := config.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
