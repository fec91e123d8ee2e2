package stampline

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Duration is a time.Duration that reads from TOML strings such as "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds the server transport settings.
type Config struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Backlog        int      `toml:"backlog"`
	ReadBufferSize int      `toml:"read_buffer_size"`
	IdleTimeout    Duration `toml:"idle_timeout"`
	MaxFrameSize   int      `toml:"max_frame_size"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           5000,
		Backlog:        50,
		ReadBufferSize: defaultReadSize,
		IdleTimeout:    Duration{defaultIdleTimeout},
		MaxFrameSize:   defaultMaxFrameSize,
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LoadConfig reads a TOML file over DefaultConfig and validates the result.
// Keys missing from the file keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "config load failed (%s)", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "config invalid (%s)", path)
	}
	return cfg, nil
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("port %d out of range", c.Port)
	}
	if c.Backlog <= 0 {
		return errors.Errorf("backlog must be positive, got %d", c.Backlog)
	}
	if c.ReadBufferSize <= 0 {
		return errors.Errorf("read_buffer_size must be positive, got %d", c.ReadBufferSize)
	}
	if c.IdleTimeout.Duration <= 0 {
		return errors.Errorf("idle_timeout must be positive, got %s", c.IdleTimeout.Duration)
	}
	if c.MaxFrameSize < c.ReadBufferSize {
		return errors.Errorf("max_frame_size %d smaller than read_buffer_size %d", c.MaxFrameSize, c.ReadBufferSize)
	}
	return nil
}
