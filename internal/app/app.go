package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"wemirror/internal/config"
	"wemirror/internal/dispatch"
	"wemirror/internal/encryption"
	"wemirror/internal/mirror"
	"wemirror/internal/server"
	"wemirror/internal/store"
)

// App is the application layer between the CLI and the mirror service.
// It constructs the full dependency graph once from config: the store
// client, trigger service, dispatcher, and HTTP server are built here and
// injected explicitly, never reached through package-level state.
// The caller must call Close when done.
type App struct {
	cfg        *config.Config
	store      mirror.Store
	service    *mirror.Service
	dispatcher *dispatch.Dispatcher
	server     *server.Server
	encryptor  encryption.Encryptor
	logger     mirror.Logger
	logFile    *os.File
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Serve", "Apply").
func NewApp(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	st, err := store.NewStoreFromConfig(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z") + "-" + operation
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	l := &slogAdapter{l: logger}
	svc := mirror.NewService(st, l, mirror.RealClock{})
	d := dispatch.New(dispatch.FromConfig(cfg.Dispatch), svc, l, mirror.UUIDGenerator{})
	srv := server.New(d, st, l)

	return &App{
		cfg:        cfg,
		store:      st,
		service:    svc,
		dispatcher: d,
		server:     srv,
		encryptor:  enc,
		logger:     l,
		logFile:    logFile,
	}, nil
}

// Serve validates the store, starts the dispatcher, and serves HTTP until
// ctx is cancelled. Queued deliveries are drained before returning.
func (a *App) Serve(ctx context.Context) error {
	if err := a.store.ValidateSetup(ctx); err != nil {
		return fmt.Errorf("validating store: %w", err)
	}

	a.dispatcher.Start(ctx)
	a.logger.Info("serving", "addr", a.cfg.Server.ListenAddr, "store", a.cfg.Store.Type)

	err := a.server.Run(ctx, a.cfg.Server.ListenAddr)

	a.dispatcher.Stop()
	if err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// ApplyIdentityCreated decodes and applies a single identity-created event
// synchronously. Used by the replay/debug CLI path; errors propagate to the
// caller instead of a retry queue.
func (a *App) ApplyIdentityCreated(ctx context.Context, payload []byte) error {
	ev, err := mirror.DecodeIdentityCreated(payload)
	if err != nil {
		return err
	}
	return a.service.HandleIdentityCreated(ctx, ev)
}

// ApplyDocumentChange decodes and applies a single document-changed event
// synchronously.
func (a *App) ApplyDocumentChange(ctx context.Context, payload []byte) error {
	ev, err := mirror.DecodeDocumentChange(payload)
	if err != nil {
		return err
	}
	return a.service.HandleDocumentChange(ctx, ev)
}

// GetProfile returns the provisioned profile record for uid.
func (a *App) GetProfile(ctx context.Context, uid string) (map[string]any, bool, error) {
	return a.store.Get(ctx, mirror.ProfilePath(uid))
}

// ListPages returns all mirror entries for one owner, keyed by page id.
func (a *App) ListPages(ctx context.Context, uid string) (map[string]map[string]any, error) {
	prefix := mirror.EntriesPrefix(uid)
	records, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing pages for %s: %w", uid, err)
	}

	pages := make(map[string]map[string]any, len(records))
	for path, rec := range records {
		pages[path[len(prefix):]] = rec
	}
	return pages, nil
}

// SetupKeys generates the snapshot encryption key pair.
func (a *App) SetupKeys(passphrase string) error {
	if a.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys already exist")
	}
	if err := a.encryptor.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up keys: %w", err)
	}
	return nil
}

// ExportSnapshot writes an encrypted dump of the entire mirror store to w.
// The dump is a JSON object keyed by store path.
func (a *App) ExportSnapshot(ctx context.Context, w io.Writer) error {
	if !a.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys not configured (run keys init)")
	}

	records, err := a.store.List(ctx, "")
	if err != nil {
		return fmt.Errorf("dumping store: %w", err)
	}

	blob, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	if err := a.encryptor.Encrypt(bytes.NewReader(blob), w); err != nil {
		return fmt.Errorf("encrypting snapshot: %w", err)
	}

	a.logger.Info("snapshot exported", "records", len(records))
	return nil
}

// ImportSnapshot decrypts a snapshot from r and replays every record into
// the store. Existing records at the same paths are overwritten; records
// not present in the snapshot are left alone.
func (a *App) ImportSnapshot(ctx context.Context, r io.Reader, passphrase string) (int, error) {
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return 0, fmt.Errorf("unlocking private key: %w", err)
	}

	var plain bytes.Buffer
	if err := dc.Decrypt(r, &plain); err != nil {
		return 0, fmt.Errorf("decrypting snapshot: %w", err)
	}

	var records map[string]map[string]any
	if err := json.Unmarshal(plain.Bytes(), &records); err != nil {
		return 0, fmt.Errorf("decoding snapshot: %w", err)
	}

	count := 0
	for path, fields := range records {
		if err := a.store.Put(ctx, path, fields); err != nil {
			return count, fmt.Errorf("restoring record at %s: %w", path, err)
		}
		count++
	}

	a.logger.Info("snapshot imported", "records", count)
	return count, nil
}

// Close releases the store and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
