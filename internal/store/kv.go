package store

import (
	"encoding/json"

	"github.com/pkg/errors"

	"parley/internal/domain"
)

// getJSON decodes the value under key into out. A missing key reports false.
func getJSON(kv domain.KeyValueStore, bucket, key string, out any) (bool, error) {
	b, ok, err := kv.Get(bucket, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, errors.Wrapf(err, "decode %s/%s", bucket, key)
	}
	return true, nil
}

func putJSON(kv domain.KeyValueStore, bucket, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return kv.Put(bucket, key, b)
}
