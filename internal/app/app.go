package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"checkin-go/internal/actions"
	"checkin-go/internal/archive"
	"checkin-go/internal/camera"
	"checkin-go/internal/config"
	"checkin-go/internal/database"
	"checkin-go/internal/database/migrations"
	"checkin-go/internal/decoder"
	"checkin-go/internal/encryption"
	"checkin-go/internal/resolver"
	"checkin-go/internal/scanner"
)

// Options adjusts how a CheckinApp is built. The zero value is what the CLI
// uses.
type Options struct {
	// RunID tags every log line. Defaults to the start time.
	RunID string
	Env   Env
	// Stdout receives share cards when Sharer is nil.
	Stdout io.Writer
	// Stderr mirrors the log file. Nil keeps the log file only.
	Stderr io.Writer
	Sharer scanner.Sharer
	// Camera replaces the configured capture backend.
	Camera scanner.Camera
	Clock  scanner.Clock
	IDs    scanner.IDGenerator
}

// CheckinApp is the application layer between the CLI/API and the scanner
// core. It constructs all dependencies from config, exposes high-level
// operations, and closes the database and log on Close.
type CheckinApp struct {
	cfg       *config.Config
	env       Env
	db        scanner.Database
	checkins  *database.CachedCheckinStore
	machine   *scanner.Machine
	encryptor archive.Encryptor
	clock     scanner.Clock
	log       scanner.Logger
	logFile   *os.File
}

// NewCheckinApp creates a fully wired CheckinApp from the given config.
// The caller must call Close when done.
func NewCheckinApp(cfg *config.Config, opts Options) (*CheckinApp, error) {
	if opts.Clock == nil {
		opts.Clock = scanner.RealClock{}
	}
	if opts.IDs == nil {
		opts.IDs = scanner.UUIDGenerator{}
	}
	if opts.RunID == "" {
		opts.RunID = opts.Clock.Now().UTC().Format("20060102T150405Z")
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	logger, logFile, err := newLogger(cfg.LogDir, opts.RunID, opts.Env.Level(), opts.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a, err := build(cfg, opts, &slogAdapter{l: logger})
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

func build(cfg *config.Config, opts Options, log scanner.Logger) (*CheckinApp, error) {
	cam := opts.Camera
	if cam == nil {
		c, err := camera.NewCameraFromConfig(cfg.Camera)
		if err != nil {
			return nil, fmt.Errorf("creating camera: %w", err)
		}
		cam = c
	}
	facing, err := camera.ParseFacing(cfg.Camera.Facing)
	if err != nil {
		return nil, err
	}

	dec, err := decoder.NewDecoderFromConfig(cfg.Decoder)
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.DeviceID, opts.Clock)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date (run `checkin db migrate`): %w", err)
	}

	window := time.Duration(cfg.Session.DuplicateWindowSeconds) * time.Second
	var checkins *database.CachedCheckinStore
	var store scanner.CheckinStore = db
	if window > 0 {
		checkins = database.NewCachedCheckinStore(db, window)
		store = checkins
	}

	sharer := opts.Sharer
	if sharer == nil {
		sharer = actions.NewWriterSharer(opts.Stdout)
	}
	handler := scanner.NewScanResultHandler(
		resolver.New(cfg.Resolver.CheckinHosts...),
		opts.IDs,
		log,
		scanner.WithOpener(actions.NewSystemOpener()),
		scanner.WithClipboard(actions.NewSystemClipboard()),
		scanner.WithSharer(sharer),
	)

	ledger := scanner.NewHistoryLedger(cfg.Session.HistoryLimit, db)
	sampler := scanner.NewFrameSampler(time.Duration(cfg.Sampler.IntervalMS)*time.Millisecond, opts.Clock, log)

	machine := scanner.NewMachine(
		scanner.NewCameraSession(cam, log),
		sampler,
		dec,
		handler,
		ledger,
		log,
		opts.Clock,
		scanner.Options{
			Facing:             facing,
			MaxSessionDuration: time.Duration(cfg.Session.MaxDurationSeconds) * time.Second,
			Retry:              retryPolicy(cfg.Session),
			DeviceID:           cfg.DeviceID,
			Checkins:           store,
		},
	)

	return &CheckinApp{
		cfg:       cfg,
		env:       opts.Env,
		db:        db,
		checkins:  checkins,
		machine:   machine,
		encryptor: enc,
		clock:     opts.Clock,
		log:       log,
	}, nil
}

func retryPolicy(cfg config.SessionConfig) scanner.RetryPolicy {
	p := scanner.DefaultRetryPolicy()
	if cfg.RetryInitialMS > 0 {
		p.Initial = time.Duration(cfg.RetryInitialMS) * time.Millisecond
	}
	if cfg.RetryMaxMS > 0 {
		p.Max = time.Duration(cfg.RetryMaxMS) * time.Millisecond
	}
	if cfg.RetryMultiplier > 0 {
		p.Multiplier = cfg.RetryMultiplier
	}
	return p
}

// Machine returns the scanner state machine.
func (a *CheckinApp) Machine() *scanner.Machine { return a.machine }

// Config returns the configuration the app was built from.
func (a *CheckinApp) Config() *config.Config { return a.cfg }

// Log returns the application logger.
func (a *CheckinApp) Log() scanner.Logger { return a.log }

// ScanOptions controls a single foreground scan.
type ScanOptions struct {
	Torch bool
	// Timeout cancels the scan when nothing was decoded in time. Zero waits
	// until ctx is done.
	Timeout time.Duration
	Actions []scanner.Action
}

// ScanOutcome is what a foreground scan produced.
type ScanOutcome struct {
	Status  scanner.Status
	Reports []scanner.ActionReport
}

// Scan runs one scan to completion: it starts the machine, optionally turns
// the torch on, waits for a result, runs the requested actions and returns
// the machine to Idle. The camera is released on every path.
func (a *CheckinApp) Scan(ctx context.Context, opts ScanOptions) (ScanOutcome, error) {
	if err := a.machine.Start(ctx); err != nil {
		st := a.machine.Status()
		if st.State == scanner.Error {
			_ = a.machine.Cancel()
		}
		return ScanOutcome{Status: st}, fmt.Errorf("starting scan: %w", err)
	}

	if opts.Torch {
		if _, err := a.machine.ToggleTorch(); err != nil {
			a.log.Warn("torch not enabled", "error", err)
		}
	}

	wctx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	st, err := a.machine.Wait(wctx)
	if err != nil {
		if cerr := a.machine.Cancel(); cerr != nil && !errors.Is(cerr, scanner.ErrInvalidTransition) {
			a.log.Error("cancelling scan", "error", cerr)
		}
		return ScanOutcome{Status: a.machine.Status()}, fmt.Errorf("waiting for scan: %w", err)
	}

	out := ScanOutcome{Status: st}
	switch st.State {
	case scanner.ResultPending:
		for _, action := range opts.Actions {
			out.Reports = append(out.Reports, a.machine.RunAction(ctx, action))
		}
		if err := a.machine.Dismiss(); err != nil {
			return out, fmt.Errorf("dismissing result: %w", err)
		}
		return out, nil
	case scanner.Error:
		if err := a.machine.Cancel(); err != nil {
			a.log.Error("clearing scan error", "error", err)
		}
		return out, st.Err
	default:
		return out, nil
	}
}

// History returns up to limit entries from the durable history, most recent
// first. A non-positive limit returns everything.
func (a *CheckinApp) History(ctx context.Context, limit int) ([]scanner.HistoryEntry, error) {
	return a.db.ListHistory(ctx, limit)
}

// SessionHistory returns the in-memory ledger of this process, most recent
// first.
func (a *CheckinApp) SessionHistory() []scanner.HistoryEntry {
	return slices.Collect(a.machine.History().List())
}

// Checkins returns the check-ins recorded for an event.
func (a *CheckinApp) Checkins(ctx context.Context, eventID string) ([]scanner.Checkin, error) {
	return a.db.ListCheckins(ctx, eventID)
}

// ForgetRecentCheckins clears the duplicate window so the next scan of any
// ticket goes to the database.
func (a *CheckinApp) ForgetRecentCheckins() {
	if a.checkins != nil {
		a.checkins.Forget()
	}
}

func (a *CheckinApp) archiveStore(ctx context.Context) (archive.Store, error) {
	store, err := archive.NewStoreFromConfig(ctx, a.cfg.Archive, archive.S3Options{
		AccessKeyID:     a.env.S3AccessKeyID,
		SecretAccessKey: a.env.S3SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating archive store: %w", err)
	}
	return store, nil
}

// ExportHistory encrypts the durable history and writes it to the
// configured archive.
func (a *CheckinApp) ExportHistory(ctx context.Context) (archive.Manifest, error) {
	if !a.encryptor.IsConfigured() {
		return archive.Manifest{}, fmt.Errorf("encryption keys not found (run `checkin keys init`)")
	}
	store, err := a.archiveStore(ctx)
	if err != nil {
		return archive.Manifest{}, err
	}
	if err := store.ValidateSetup(ctx); err != nil {
		return archive.Manifest{}, fmt.Errorf("validating archive %s: %w", store.Name(), err)
	}
	return archive.NewExporter(a.db, store, a.encryptor, a.clock, a.cfg.DeviceID, a.log).Export(ctx)
}

// ListArchives returns the stored export keys for this device.
func (a *CheckinApp) ListArchives(ctx context.Context) ([]string, error) {
	store, err := a.archiveStore(ctx)
	if err != nil {
		return nil, err
	}
	return store.List(ctx, archive.KeyPrefix(a.cfg.DeviceID))
}

// ImportArchive decrypts one stored export. The passphrase unlocks the
// private key.
func (a *CheckinApp) ImportArchive(ctx context.Context, key, passphrase string) ([]scanner.HistoryEntry, error) {
	store, err := a.archiveStore(ctx)
	if err != nil {
		return nil, err
	}
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}
	return archive.Import(ctx, store, key, dc)
}

// Close tears the scanner down and closes all resources.
func (a *CheckinApp) Close() error {
	var errs []error
	if err := a.machine.Teardown(); err != nil {
		errs = append(errs, fmt.Errorf("tearing down scanner: %w", err))
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// InitKeys generates the archive key pair, protecting the private key with
// passphrase. It needs no database.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	return enc.Setup(passphrase)
}

// migrationReporter is implemented by databases that can report their schema
// version.
type migrationReporter interface {
	MigrationStatus() (migrations.Status, error)
}

// DatabaseStatus reports the schema version of the configured database
// without requiring it to be current.
func DatabaseStatus(cfg *config.Config) (migrations.Status, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.DeviceID, nil)
	if err != nil {
		return migrations.Status{}, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	r, ok := db.(migrationReporter)
	if !ok {
		return migrations.Status{}, fmt.Errorf("database type %s does not report migrations", cfg.Database.Type)
	}
	return r.MigrationStatus()
}

// MigrateDatabase applies pending migrations to the configured database and
// returns the resulting status.
func MigrateDatabase(cfg *config.Config) (migrations.Status, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.DeviceID, nil)
	if err != nil {
		return migrations.Status{}, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return migrations.Status{}, fmt.Errorf("migrating database: %w", err)
	}
	r, ok := db.(migrationReporter)
	if !ok {
		return migrations.Status{}, nil
	}
	return r.MigrationStatus()
}
