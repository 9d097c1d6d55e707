package licensing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Syncer refreshes a record from the licensing authority.
// *ActivationClient is the production implementation.
type Syncer interface {
	Sync(ctx context.Context, record Record, isVirtualMachine bool) (Record, error)
}

// EngineConfig wires the engine's capabilities. Only Store is required.
type EngineConfig struct {
	Store      *Store
	Probe      HardwareProbe
	Activation Syncer
	Controller *ServiceController
	// Policy defaults to DefaultPolicy when nil.
	Policy *Policy
	Now    func() time.Time
	Logger *zerolog.Logger
}

// Engine composes the licensing components for callers.
type Engine struct {
	store      *Store
	probe      HardwareProbe
	activation Syncer
	controller *ServiceController
	policy     Policy
	now        func() time.Time
	log        zerolog.Logger
}

// CheckOptions selects the steps of a Check run.
type CheckOptions struct {
	// AutoRegister registers a physical host that has no record yet.
	AutoRegister bool
	Sync         bool
	Apply        bool
}

// Report is the outcome of a Status or Check call. Evaluation is always
// usable; the *Err fields record non-fatal failures of individual steps.
type Report struct {
	CheckedAt        time.Time
	Record           Record
	Fingerprint      *HardwareFingerprint
	Evaluation       Evaluation
	Registered       bool
	Synced           bool
	Apply            *ApplyResult
	HardwareMismatch bool
	Inconsistent     bool

	LoadErr     error
	ProbeErr    error
	RegisterErr error
	SyncErr     error
	ControlErr  error
}

// Err joins every step failure of the report, or returns nil.
func (r Report) Err() error {
	return errors.Join(r.LoadErr, r.ProbeErr, r.RegisterErr, r.SyncErr, r.ControlErr)
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("license engine requires a store")
	}
	e := &Engine{
		store:      cfg.Store,
		probe:      cfg.Probe,
		activation: cfg.Activation,
		controller: cfg.Controller,
		policy:     DefaultPolicy(),
		now:        cfg.Now,
	}
	if cfg.Policy != nil {
		e.policy = *cfg.Policy
	}
	if e.now == nil {
		e.now = time.Now
	}
	if cfg.Logger != nil {
		e.log = *cfg.Logger
	} else {
		e.log = log.Logger.With().Str("component", "licensing").Logger()
	}
	return e, nil
}

// Policy returns the evaluation policy in effect.
func (e *Engine) Policy() Policy { return e.policy }

func (e *Engine) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &e.log
}

// Fingerprint probes and normalizes this host's identity.
func (e *Engine) Fingerprint(ctx context.Context) (HardwareFingerprint, error) {
	return ReadFingerprint(ctx, e.probe)
}

// RegisterHost registers a physical host from its probed identity. Virtual
// machines must use RegisterInstallerKey instead.
func (e *Engine) RegisterHost(ctx context.Context) (Record, error) {
	fp, err := e.Fingerprint(ctx)
	return e.registerFingerprint(ctx, fp, err)
}

func (e *Engine) registerFingerprint(ctx context.Context, fp HardwareFingerprint, probeErr error) (Record, error) {
	if fp.VirtualMachine {
		return Record{}, ErrVirtualMachine
	}
	if !fp.Complete() {
		if probeErr != nil {
			return Record{}, errors.Join(ErrHashUnavailable, probeErr)
		}
		return Record{}, ErrHashUnavailable
	}
	return e.register(ctx, fp.Serial, fp.MAC, false)
}

// RegisterInstallerKey registers the host from an operator-supplied
// "<SERIAL>_<MAC>" key.
func (e *Engine) RegisterInstallerKey(ctx context.Context, key string) (Record, error) {
	serial, mac, ok := ParseInstallerKey(key)
	if !ok {
		return Record{}, ErrInvalidInstallerKey
	}
	return e.register(ctx, serial, mac, true)
}

// register stores a new identity. Re-registering the same identity keeps the
// authority-provided fields; a different identity starts over as Unknown.
func (e *Engine) register(ctx context.Context, serial, mac string, virtualMachine bool) (Record, error) {
	id, err := HardwareHash(serial, mac)
	if err != nil {
		return Record{}, err
	}

	record := Record{
		HardwareID:     id,
		Serial:         NormalizeSerial(serial),
		MAC:            NormalizeMAC(mac),
		VirtualMachine: virtualMachine,
	}

	existing, loadErr := e.store.Load()
	if loadErr != nil {
		e.logger(ctx).Warn().Err(loadErr).Msg("Existing license record unreadable; registering from scratch")
	}
	if existing.HardwareID == id {
		record.Status = existing.Status
		record.ValidUntil = existing.ValidUntil
		record.Modules = existing.Modules
	} else if existing.Registered() {
		e.logger(ctx).Warn().
			Str("previous_hardware_id", existing.HardwareID).
			Str("hardware_id", id).
			Msg("Hardware identity changed; license state reset")
	}

	if err := e.store.Save(record); err != nil {
		return Record{}, fmt.Errorf("register host: %w", err)
	}
	e.logger(ctx).Info().
		Str("hardware_id", id).
		Bool("virtual_machine", virtualMachine).
		Msg("License identity registered")
	return record, nil
}

// Reset deletes the stored record.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.store.Delete(); err != nil {
		return err
	}
	e.logger(ctx).Info().Msg("License record deleted")
	return nil
}

// Status evaluates the stored record without network traffic or service
// commands.
func (e *Engine) Status() Report {
	record, loadErr := e.store.Load()
	now := e.now()
	return Report{
		CheckedAt:    now,
		Record:       record,
		Evaluation:   Evaluate(record, now, e.policy),
		Inconsistent: !record.Consistent(),
		LoadErr:      loadErr,
	}
}

// Check runs one verification pass. It never fails; see Report.
func (e *Engine) Check(ctx context.Context, opts CheckOptions) Report {
	logger := e.logger(ctx)
	report := Report{CheckedAt: e.now()}

	record, loadErr := e.store.Load()
	report.LoadErr = loadErr
	if loadErr != nil {
		logger.Warn().Err(loadErr).Msg("License record unreadable; treating as unregistered")
	}

	var fp HardwareFingerprint
	if e.probe != nil && (opts.AutoRegister || !record.VirtualMachine) {
		var probeErr error
		fp, probeErr = e.Fingerprint(ctx)
		report.Fingerprint = &fp
		report.ProbeErr = probeErr
		if probeErr != nil {
			logger.Warn().Err(probeErr).Msg("Hardware probe incomplete")
		}
	}

	// An unreadable record is not a missing one; registering over it would
	// discard the status it holds.
	if opts.AutoRegister && !record.Registered() && loadErr == nil {
		if report.Fingerprint == nil {
			report.RegisterErr = ErrHashUnavailable
		} else {
			registered, err := e.registerFingerprint(ctx, fp, report.ProbeErr)
			if err != nil {
				report.RegisterErr = err
				if errors.Is(err, ErrVirtualMachine) {
					logger.Warn().Msg("Virtual machine without license; register an installer key")
				} else {
					logger.Error().Err(err).Msg("Automatic license registration failed")
				}
			} else {
				record = registered
				report.Registered = true
			}
		}
	}

	if record.Registered() && !record.VirtualMachine && fp.Complete() && fp.HardwareID() != record.HardwareID {
		report.HardwareMismatch = true
		logger.Warn().
			Str("hardware_id", record.HardwareID).
			Str("probed_hardware_id", fp.HardwareID()).
			Msg("License record does not match this host's hardware")
	}
	if !record.Consistent() {
		report.Inconsistent = true
		logger.Warn().Str("hardware_id", record.HardwareID).Msg("License record identity does not match its identifiers")
	}

	if opts.Sync {
		switch {
		case e.activation == nil:
		case !record.Registered():
			report.SyncErr = ErrNotRegistered
			logger.Warn().Msg("No local license found; skipping remote sync")
		default:
			isVM := record.VirtualMachine || fp.VirtualMachine
			updated, err := e.activation.Sync(ctx, record, isVM)
			if err != nil {
				report.SyncErr = err
				logger.Warn().Err(err).Msg("License sync failed; evaluating stored record")
			} else {
				record = updated
				report.Synced = true
				logger.Info().
					Str("status", record.Status.Wire()).
					Str("valid_until", validUntilString(record.ValidUntil)).
					Msg("License updated from authority")
			}
		}
	}

	report.Record = record
	report.Evaluation = Evaluate(record, report.CheckedAt, e.policy)

	if opts.Apply && e.controller != nil {
		result, err := e.controller.Apply(ctx, report.Evaluation.Decision)
		report.Apply = &result
		if err != nil {
			report.ControlErr = err
			logger.Error().Err(err).Str("unit", result.Unit).Msg("Service control failed")
		} else if result.Commanded {
			logger.Info().Str("unit", result.Unit).Str("action", result.Action).Msg("Service state changed")
		}
	}

	logger.Info().
		Bool("valid", report.Evaluation.Valid).
		Str("state", string(report.Evaluation.State)).
		Str("decision", report.Evaluation.Decision.String()).
		Msg(report.Evaluation.Message)
	return report
}

func validUntilString(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return formatDate(*t)
}
