package config

import (
	"io"
	"time"

	"github.com/AUKUS561/GOSE/GROUP"
	"github.com/AUKUS561/GOSE/GSIG"
	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"
)

// ErrInvalidConfig is returned by Validate and LoadConfig.
var ErrInvalidConfig = xerrors.New("invalid config")

// Duration is a time.Duration that reads "2s"-style strings from toml.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the content of gose.toml.
type Config struct {
	Curve        string   `toml:"curve"`
	IndexLength  int      `toml:"index_length"`
	HistoryLimit int      `toml:"history_limit"`
	PushTimeout  Duration `toml:"push_timeout"`
	KeyTimeout   Duration `toml:"key_timeout"`
	DBPath       string   `toml:"db_path"`
	MetricsAddr  string   `toml:"metrics_addr"`
	Debug        int      `toml:"debug"`
}

func Default() *Config {
	return &Config{
		Curve:        group.CurveBN256,
		IndexLength:  21,
		HistoryLimit: 1024,
		PushTimeout:  Duration{2 * time.Second},
		KeyTimeout:   Duration{5 * time.Second},
		DBPath:       "gose.db",
		Debug:        1,
	}
}

// LoadConfig reads path on top of the defaults and validates the result.
// history_limit has no default here and must appear in the file.
func LoadConfig(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, xerrors.Errorf("reading %s: %v: %w", path, err, ErrInvalidConfig)
	}
	// retention has no safe default; it must be chosen explicitly
	if !md.IsDefined("history_limit") {
		return nil, xerrors.Errorf("%s: history_limit not set, want a positive count or -1: %w", path, ErrInvalidConfig)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Curve != group.CurveBN256:
		return xerrors.Errorf("curve %q: %w", c.Curve, ErrInvalidConfig)
	case c.IndexLength < 2:
		return xerrors.Errorf("index_length %d, need at least 2: %w", c.IndexLength, ErrInvalidConfig)
	case c.HistoryLimit == 0 || c.HistoryLimit < gsig.Unbounded:
		return xerrors.Errorf("history_limit %d, need a positive count or -1: %w", c.HistoryLimit, ErrInvalidConfig)
	case c.PushTimeout.Duration <= 0:
		return xerrors.Errorf("push_timeout must be positive: %w", ErrInvalidConfig)
	case c.KeyTimeout.Duration <= 0:
		return xerrors.Errorf("key_timeout must be positive: %w", ErrInvalidConfig)
	}
	return nil
}

// Write encodes c as toml.
func (c *Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
