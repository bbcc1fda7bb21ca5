package app

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"

	"parley/internal/crypto"
	"parley/internal/domain"
)

// Open loads home/config.toml, applies a non-empty relayURL override and
// builds the Wire.
func Open(home, relayURL string) (*Wire, error) {
	cfg, err := LoadFile(filepath.Join(home, ConfigFile))
	if err != nil {
		return nil, err
	}
	if relayURL != "" {
		cfg.Relay.URL = relayURL
		if err := cfg.Relay.validate(); err != nil {
			return nil, err
		}
	}
	return NewWire(home, cfg)
}

// Register publishes the local identity under username on the configured
// relay and remembers the bearer token. A new identity is generated first if
// none exists or the current one has expired.
func (w *Wire) Register(
	ctx context.Context,
	passphrase string,
	username domain.Username,
) (domain.Fingerprint, error) {
	rec, created, err := w.Identity.EnsureIdentity(passphrase)
	if err != nil {
		return "", err
	}
	if created {
		w.Log.GetLogger("app").Noticef("Generated a new identity for %s", username)
	}

	// Re-registering with the saved token replaces our published key.
	if err := w.Login(username); err != nil {
		return "", err
	}
	token, err := w.Relay.Register(ctx, username, rec.PublicKey)
	if err != nil {
		return "", errors.Wrapf(err, "register %s", username)
	}
	if err := w.Accounts.SaveAccountProfile(domain.AccountProfile{
		ServerURL: w.Config.Relay.URL,
		Username:  username,
		Token:     token,
	}); err != nil {
		return "", err
	}
	return crypto.Fingerprint(rec.PublicKey), nil
}

// Login loads the saved token for username on the configured relay, if
// any, and attaches it to the relay client.
func (w *Wire) Login(username domain.Username) error {
	profile, ok, err := w.Accounts.LoadAccountProfile(w.Config.Relay.URL, username)
	if err != nil {
		return err
	}
	if ok {
		w.Relay.UseToken(profile.Token)
	}
	return nil
}
