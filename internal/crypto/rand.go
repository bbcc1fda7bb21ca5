package crypto

import (
	"crypto/rand"
	"io"

	"github.com/pkg/errors"

	"parley/internal/domain"
)

// randReader is the secure random source. Tests swap it to simulate a host
// without one.
var randReader io.Reader = rand.Reader

// readRandom fills b from randReader.
func readRandom(b []byte) error {
	if _, err := io.ReadFull(randReader, b); err != nil {
		return errors.Wrapf(domain.ErrCryptoUnavailable, "read %d random bytes: %v", len(b), err)
	}
	return nil
}
