package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"parley/internal/crypto"
)

func TestLoadDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := Load(nil)
	require.NoError(err)
	require.Equal(defaultRelayURL, cfg.Relay.URL)
	require.Equal("NOTICE", cfg.Logging.Level)
	require.Equal(crypto.DefaultRSABits, cfg.Keys.RSABits)
	require.Equal(365*24*time.Hour, cfg.Keys.Lifetime())

	missing, err := LoadFile(filepath.Join(t.TempDir(), ConfigFile))
	require.NoError(err)
	require.Equal(cfg, missing)
}

func TestLoad(t *testing.T) {
	require := require.New(t)

	cfg, err := Load([]byte(`
[Relay]
URL = "https://relay.example.org/"

[Logging]
Level = "debug"
File = "/var/log/parley.log"

[Keys]
RSABits = 3072
IdentityLifetime = "720h"
`))
	require.NoError(err)
	require.Equal("https://relay.example.org", cfg.Relay.URL)
	require.Equal("DEBUG", cfg.Logging.Level)
	require.Equal("/var/log/parley.log", cfg.Logging.File)
	require.Equal(3072, cfg.Keys.RSABits)
	require.Equal(720*time.Hour, cfg.Keys.Lifetime())
}

func TestLoadRejects(t *testing.T) {
	for name, body := range map[string]string{
		"unknown key":      "[Relay]\nURI = \"http://x\"\n",
		"bad scheme":       "[Relay]\nURL = \"ftp://x\"\n",
		"bad level":        "[Logging]\nLevel = \"LOUD\"\n",
		"relative logfile": "[Logging]\nFile = \"parley.log\"\n",
		"weak key":         "[Keys]\nRSABits = 1024\n",
		"bad lifetime":     "[Keys]\nIdentityLifetime = \"a year\"\n",
		"not toml":         "[Relay\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(body))
			require.Error(t, err)
		})
	}
}

func TestLoadFileReadsHome(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), ConfigFile)
	require.NoError(os.WriteFile(path, []byte("[Logging]\nDisable = true\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(err)
	require.True(cfg.Logging.Disable)
}

func TestLoadServer(t *testing.T) {
	require := require.New(t)

	cfg, err := LoadServerFile("")
	require.NoError(err)
	require.Equal(defaultListen, cfg.Server.Listen)
	require.Equal(defaultMaxQueue, cfg.Server.MaxQueue)

	cfg, err = LoadServer([]byte("[Server]\nListen = \":9000\"\nMaxQueue = 5\n[Logging]\nLevel = \"info\"\n"))
	require.NoError(err)
	require.Equal(":9000", cfg.Server.Listen)
	require.Equal(5, cfg.Server.MaxQueue)
	require.Equal("INFO", cfg.Logging.Level)

	_, err = LoadServer([]byte("[Server]\nMaxQueue = -1\n"))
	require.Error(err)
}
