package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nanosip/nanosip-license/internal/boltstore"
	"github.com/nanosip/nanosip-license/internal/config"
	"github.com/nanosip/nanosip-license/internal/hardware"
	"github.com/nanosip/nanosip-license/internal/logging"
	"github.com/nanosip/nanosip-license/internal/sqlitestore"
	"github.com/nanosip/nanosip-license/internal/systemd"
	"github.com/nanosip/nanosip-license/pkg/licensing"
	"github.com/nanosip/nanosip-license/pkg/tlsutil"
)

// Seams replaced by tests.
var (
	loadConfig = config.Load

	newHardwareProbe = func(cfg *config.Config) licensing.HardwareProbe {
		return hardware.NewProbe(hardware.NewSystemReader(), cfg.NetInterface)
	}

	newServiceManager = func(cfg *config.Config) licensing.ServiceManager {
		return systemd.NewManager(systemd.ExecRunner, cfg.ServiceTimeout)
	}
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg        *config.Config
	storage    licensing.Storage
	store      *licensing.Store
	engine     *licensing.Engine
	activation *licensing.ActivationClient
	dialer     *tlsutil.CachingDialer

	closeStorage func() error
}

func setupApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Format:     cfg.LogFormat,
		Level:      cfg.LogLevel,
		Component:  "nanosip-license",
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	})

	storage, closeStorage, err := openStorage(cfg)
	if err != nil {
		logging.Shutdown()
		return nil, err
	}
	store := licensing.NewStore(storage, "")

	dialer := tlsutil.NewCachingDialer(cfg.DNSCacheTTL)
	activation, err := licensing.NewActivationClient(licensing.ActivationConfig{
		Endpoint:        cfg.Endpoint,
		Timeout:         cfg.Timeout,
		ProductPhysical: cfg.ProductPhysical,
		ProductVirtual:  cfg.ProductVirtual,
		UserAgent:       "nanosip-license/" + Version,
		HTTPClient: tlsutil.NewHTTPClient(tlsutil.ClientOptions{
			Timeout:     cfg.Timeout,
			Fingerprint: cfg.TLSFingerprint,
			Dialer:      dialer,
		}),
	}, store)
	if err != nil {
		_ = closeStorage()
		logging.Shutdown()
		return nil, err
	}

	policy := cfg.Policy()
	logger := logging.Component("licensing")
	engine, err := licensing.NewEngine(licensing.EngineConfig{
		Store:      store,
		Probe:      newHardwareProbe(cfg),
		Activation: activation,
		Controller: licensing.NewServiceController(newServiceManager(cfg), cfg.ServiceUnit),
		Policy:     &policy,
		Logger:     &logger,
	})
	if err != nil {
		_ = closeStorage()
		logging.Shutdown()
		return nil, err
	}

	return &app{
		cfg:          cfg,
		storage:      storage,
		store:        store,
		engine:       engine,
		activation:   activation,
		dialer:       dialer,
		closeStorage: closeStorage,
	}, nil
}

// updateTimer is implemented by storage backends that know when a record
// was last written.
type updateTimer interface {
	UpdatedAt(key string) (time.Time, error)
}

// recordUpdatedAt returns when the license record was last written, or nil
// when the backend cannot tell.
func (a *app) recordUpdatedAt() *time.Time {
	ut, ok := a.storage.(updateTimer)
	if !ok {
		return nil
	}
	t, err := ut.UpdatedAt(a.store.Key())
	if err != nil {
		return nil
	}
	return &t
}

func (a *app) Close() {
	if a.closeStorage != nil {
		if err := a.closeStorage(); err != nil {
			log.Warn().Err(err).Msg("Failed to close license storage")
		}
	}
	logging.Shutdown()
}

func openStorage(cfg *config.Config) (licensing.Storage, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Storage {
	case config.StorageBolt:
		s, err := boltstore.Open(cfg.LicensePath())
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case config.StorageSQLite:
		s, err := sqlitestore.Open(cfg.LicensePath())
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case config.StorageFile, "":
		fs, err := licensing.NewFileStorage(cfg.LicenseDir, map[string]string{
			licensing.DefaultRecordKey: cfg.LicenseFile,
		})
		if err != nil {
			return nil, noop, err
		}
		return fs, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

// commandContext returns ctx or a background context when cobra ran
// without one.
func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

var errAborted = errors.New("aborted")
