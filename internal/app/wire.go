package app

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"parley/internal/log"
	"parley/internal/relay"
	"parley/internal/services/identity"
	"parley/internal/services/message"
	"parley/internal/services/session"
	"parley/internal/store"
)

const (
	kvFile      = "parley.db"
	historyFile = "history.db"
)

// Wire bundles all stores, services, and clients for the CLI.
type Wire struct {
	Home   string
	Config *Config
	Log    *log.Backend

	Identity *identity.Service
	Accounts *store.AccountKVStore
	Relay    *relay.HTTPClient
	Sessions *session.Service
	Messages *message.Service

	kv      *store.BoltStore
	history *store.HistorySQLite
}

// NewWire constructs the dependency graph under home from cfg.
func NewWire(home string, cfg *Config) (*Wire, error) {
	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, err
	}
	backend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, errors.Wrap(err, "log backend")
	}

	kv, err := store.OpenBolt(filepath.Join(home, kvFile))
	if err != nil {
		backend.Close()
		return nil, err
	}
	history, err := store.OpenHistory(filepath.Join(home, historyFile))
	if err != nil {
		kv.Close()
		backend.Close()
		return nil, err
	}

	rc := relay.NewHTTP(cfg.Relay.URL)
	rc.Log = backend.GetLogger("relay")

	ids := identity.New(
		store.NewIdentityFileStore(home),
		identity.WithKeySize(cfg.Keys.RSABits),
		identity.WithLifetime(cfg.Keys.Lifetime()),
		identity.WithLogger(backend.GetLogger("identity")),
	)
	sessions := session.New(
		store.NewSessionKVStore(kv),
		store.NewContactKVStore(kv),
		history,
		rc,
		backend.GetLogger("session"),
	)
	messages := message.New(ids, sessions, history, rc, backend.GetLogger("message"))

	return &Wire{
		Home:     home,
		Config:   cfg,
		Log:      backend,
		Identity: ids,
		Accounts: store.NewAccountKVStore(kv),
		Relay:    rc,
		Sessions: sessions,
		Messages: messages,
		kv:       kv,
		history:  history,
	}, nil
}

// Close releases the stores and the log backend.
func (w *Wire) Close() error {
	var first error
	for _, c := range []func() error{w.history.Close, w.kv.Close, w.Log.Close} {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
