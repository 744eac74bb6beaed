package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/janekbaraniewski/usagesync/internal/collector"
	"github.com/janekbaraniewski/usagesync/internal/config"
	"github.com/janekbaraniewski/usagesync/internal/logging"
	"github.com/janekbaraniewski/usagesync/internal/sources/claude"
	"github.com/janekbaraniewski/usagesync/internal/sources/codex"
	"github.com/janekbaraniewski/usagesync/internal/sources/external"
	"github.com/janekbaraniewski/usagesync/internal/sources/gemini"
	"github.com/janekbaraniewski/usagesync/internal/sources/opencode"
	"github.com/janekbaraniewski/usagesync/internal/sources/shared"
	"github.com/janekbaraniewski/usagesync/internal/syncer"
)

// runtime bundles what every command resolves before doing work.
type runtime struct {
	cfg        config.Config
	configPath string
	paths      config.Paths
	log        *zap.Logger
	getenv     func(string) string
}

func loadRuntime(verbose bool) (*runtime, error) {
	log, err := logging.New(verbose)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	configPath := config.ConfigPath()
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		// LoadFrom still returns defaults here.
		log.Warn("config load failed", logging.Event("config_load_failed"), zap.String("path", configPath), zap.Error(err))
	}

	paths, err := config.ResolvePaths(cfg)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:        cfg,
		configPath: configPath,
		paths:      paths,
		log:        log,
		getenv:     os.Getenv,
	}, nil
}

func (r *runtime) close() {
	_ = r.log.Sync()
}

func (r *runtime) locations() syncer.Locations {
	src := r.cfg.Sources

	claudeDirs := claude.DefaultProjectsDirs()
	if len(src.ClaudeProjectsDirs) > 0 {
		claudeDirs = make([]string, 0, len(src.ClaudeProjectsDirs))
		for _, d := range src.ClaudeProjectsDirs {
			claudeDirs = append(claudeDirs, shared.ExpandHome(d))
		}
	}

	return syncer.Locations{
		ClaudeProjectsDirs: claudeDirs,
		CodexSessionsDir:   shared.FirstNonEmpty(shared.ExpandHome(src.CodexSessionsDir), codex.DefaultSessionsDir()),
		GeminiTmpDir:       shared.FirstNonEmpty(shared.ExpandHome(src.GeminiTmpDir), gemini.DefaultTmpDir()),
		OpenCodeDBPath:     shared.FirstNonEmpty(shared.ExpandHome(src.OpenCodeDBPath), opencode.DefaultDBPath()),
		OpenCodeDir:        shared.FirstNonEmpty(shared.ExpandHome(src.OpenCodeDir), external.DefaultOpenCodeDir()),
		ExternalUsageDir:   shared.ExpandHome(r.paths.ExternalUsageDir),
	}
}

func (r *runtime) engine() *syncer.Engine {
	return syncer.New(syncer.Options{
		Paths:     r.paths,
		Locations: r.locations(),
		Enabled:   r.cfg.SourceEnabled,
		Connect:   r.connect,
		Logger:    r.log,
	})
}

func (r *runtime) apiBase() string {
	return config.ResolveAPIBase(r.cfg, r.getenv)
}

// auth resolves credentials, creating the device secret on first use.
func (r *runtime) auth() (collector.Auth, collector.Identity, error) {
	identity, err := collector.ReadIdentity(r.paths.DeviceSecret)
	if err != nil {
		return collector.Auth{}, collector.Identity{}, err
	}
	auth := collector.ResolveAuth(collector.AuthOptions{
		Getenv:       r.getenv,
		TokenPath:    r.paths.APIToken,
		DeviceSecret: identity.DeviceSecret,
		ConfigPath:   r.configPath,
		LegacyToken:  r.cfg.APIToken,
		Logger:       r.log,
	})
	return auth, identity, nil
}

func (r *runtime) connect(_ context.Context) (syncer.Deliverer, error) {
	base := r.apiBase()
	if base == "" {
		return nil, collector.ErrMissingAPIBase
	}
	auth, identity, err := r.auth()
	if err != nil {
		return nil, err
	}
	d := r.cfg.Delivery
	client, err := collector.New(collector.Options{
		APIBase:       base,
		Auth:          auth,
		Identity:      identity,
		Timeout:       time.Duration(d.TimeoutSeconds) * time.Second,
		Concurrency:   d.Concurrency,
		RatePerSecond: d.RatePerSecond,
		Logger:        r.log,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
