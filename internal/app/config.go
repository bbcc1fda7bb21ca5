package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"parley/internal/crypto"
)

const (
	// ConfigFile is the client configuration file inside the home directory.
	ConfigFile = "config.toml"

	defaultRelayURL         = "http://127.0.0.1:8080"
	defaultLogLevel         = "NOTICE"
	defaultIdentityLifetime = "8760h"
	defaultListen           = "127.0.0.1:8080"
	defaultMaxQueue         = 1000
)

// Relay locates the relay server.
type Relay struct {
	URL string
}

func (r *Relay) validate() error {
	if r.URL == "" {
		r.URL = defaultRelayURL
	}
	if !strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") {
		return fmt.Errorf("config: Relay: URL '%v' must be http or https", r.URL)
	}
	r.URL = strings.TrimRight(r.URL, "/")
	return nil
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stderr will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (l *Logging) validate() error {
	lvl := strings.ToUpper(l.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", l.Level)
	}
	l.Level = lvl
	if !l.Disable && l.File != "" && !filepath.IsAbs(l.File) {
		return errors.New("config: Logging: File must be an absolute path")
	}
	return nil
}

// Keys controls identity key generation.
type Keys struct {
	// RSABits is the identity modulus size.
	RSABits int

	// IdentityLifetime is a Go duration string, e.g. "8760h". Zero means
	// identities never expire.
	IdentityLifetime string

	lifetime time.Duration
}

// Lifetime returns the parsed IdentityLifetime.
func (k *Keys) Lifetime() time.Duration { return k.lifetime }

func (k *Keys) validate() error {
	if k.RSABits == 0 {
		k.RSABits = crypto.DefaultRSABits
	}
	if k.RSABits < crypto.MinRSABits {
		return fmt.Errorf("config: Keys: RSABits %d is below %d", k.RSABits, crypto.MinRSABits)
	}
	if k.IdentityLifetime == "" {
		k.IdentityLifetime = defaultIdentityLifetime
	}
	d, err := time.ParseDuration(k.IdentityLifetime)
	if err != nil || d < 0 {
		return fmt.Errorf("config: Keys: IdentityLifetime '%v' is invalid", k.IdentityLifetime)
	}
	k.lifetime = d
	return nil
}

// Config is the client configuration.
type Config struct {
	Relay   *Relay
	Logging *Logging
	Keys    *Keys
}

// FixupAndValidate fills in defaults and checks every section.
func (c *Config) FixupAndValidate() error {
	if c.Relay == nil {
		c.Relay = &Relay{}
	}
	if c.Logging == nil {
		c.Logging = &Logging{}
	}
	if c.Keys == nil {
		c.Keys = &Keys{}
	}
	if err := c.Relay.validate(); err != nil {
		return err
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}
	return c.Keys.validate()
}

// DefaultConfig returns a validated configuration with every default set.
func DefaultConfig() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic(err)
	}
	return cfg
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	if err := decode(b, cfg); err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file. A missing file
// yields DefaultConfig.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	return Load(b)
}

// Server is the relay daemon configuration.
type Server struct {
	// Listen is the TCP address to serve HTTP on.
	Listen string

	// MaxQueue bounds the envelopes held for each recipient.
	MaxQueue int
}

// ServerConfig is the relay daemon configuration file.
type ServerConfig struct {
	Server  *Server
	Logging *Logging
}

// FixupAndValidate fills in defaults and checks every section.
func (c *ServerConfig) FixupAndValidate() error {
	if c.Server == nil {
		c.Server = &Server{}
	}
	if c.Logging == nil {
		c.Logging = &Logging{}
	}
	if c.Server.Listen == "" {
		c.Server.Listen = defaultListen
	}
	if c.Server.MaxQueue == 0 {
		c.Server.MaxQueue = defaultMaxQueue
	}
	if c.Server.MaxQueue < 0 {
		return fmt.Errorf("config: Server: MaxQueue %d is negative", c.Server.MaxQueue)
	}
	return c.Logging.validate()
}

// LoadServer parses and validates a relay daemon config body.
func LoadServer(b []byte) (*ServerConfig, error) {
	cfg := new(ServerConfig)
	if err := decode(b, cfg); err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServerFile loads a relay daemon config. An empty path yields the
// defaults.
func LoadServerFile(f string) (*ServerConfig, error) {
	if f == "" {
		return LoadServer(nil)
	}
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return LoadServer(b)
}

func decode(b []byte, cfg any) error {
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	return nil
}
