package crypto

import (
	"encoding/base64"

	"github.com/pkg/errors"

	"parley/internal/domain"
)

// BytesToText returns standard base64 encoding without newlines.
func BytesToText(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// TextToBytes reverses BytesToText.
func TextToBytes(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrEncoding, "base64: %v", err)
	}
	return b, nil
}
