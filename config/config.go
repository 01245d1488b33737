// Package config loads migrator settings from a TOML file, a dotenv file and
// CASSMIG_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/pelletier/go-toml/v2"

	"github.com/root-talis/cassmig"
	"github.com/root-talis/cassmig/driver/cassandra"
	"github.com/root-talis/cassmig/migration"
)

const DefaultLocation = "filesystem:db/migration"

var ErrInvalidConfig = errors.New("invalid configuration")

// Duration reads "30s"-style strings.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ---

type Config struct {
	Locations       []string `toml:"locations"`
	AllowOutOfOrder bool     `toml:"allow_out_of_order"`
	IgnoreFuture    bool     `toml:"ignore_future"`
	InstalledBy     string   `toml:"installed_by"`

	Keyspace KeyspaceConfig `toml:"keyspace"`
	Cluster  ClusterConfig  `toml:"cluster"`
	Baseline BaselineConfig `toml:"baseline"`
	Lock     LockConfig     `toml:"lock"`

	Path string `toml:"-"`
}

type KeyspaceConfig struct {
	Name              string `toml:"name"`
	Table             string `toml:"table"`
	Consistency       string `toml:"consistency"`
	SerialConsistency string `toml:"serial_consistency"`
}

type ClusterConfig struct {
	ContactPoints  []string `toml:"contact_points"`
	Port           int      `toml:"port"`
	Username       string   `toml:"username"`
	Password       string   `toml:"password"`
	Timeout        Duration `toml:"timeout"`
	ConnectRetries uint64   `toml:"connect_retries"`
}

type BaselineConfig struct {
	Version     string `toml:"version"`
	Description string `toml:"description"`
}

type LockConfig struct {
	TTL  Duration `toml:"ttl"`
	Wait Duration `toml:"wait"`
}

func Default() *Config {
	return &Config{
		Locations: []string{DefaultLocation},
		Keyspace: KeyspaceConfig{
			Table:             cassandra.DefaultTable,
			Consistency:       "QUORUM",
			SerialConsistency: "LOCAL_SERIAL",
		},
		Cluster: ClusterConfig{
			ContactPoints:  []string{"localhost"},
			Port:           cassandra.DefaultPort,
			Timeout:        Duration{cassandra.DefaultTimeout},
			ConnectRetries: cassandra.DefaultConnectRetries,
		},
		Baseline: BaselineConfig{
			Version:     cassmig.DefaultBaselineVersion,
			Description: migration.BaselineDescription,
		},
		Lock: LockConfig{
			TTL:  Duration{cassmig.DefaultLockTTL},
			Wait: Duration{cassmig.DefaultLockWait},
		},
	}
}

// Load reads the TOML file at path over the defaults. An empty path yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	cfg.Path = path

	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Locations) == 0 {
		errs = append(errs, errors.New("no migration locations"))
	}
	if c.Keyspace.Name == "" {
		errs = append(errs, errors.New("keyspace name is required"))
	}
	if len(c.Cluster.ContactPoints) == 0 {
		errs = append(errs, errors.New("no contact points"))
	}
	if c.Cluster.Port <= 0 || c.Cluster.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", c.Cluster.Port))
	}
	if _, err := parseConsistency(c.Keyspace.Consistency); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseSerialConsistency(c.Keyspace.SerialConsistency); err != nil {
		errs = append(errs, err)
	}
	if c.Cluster.Timeout.Duration < 0 {
		errs = append(errs, errors.New("cluster timeout must not be negative"))
	}
	if c.Lock.TTL.Duration < time.Second {
		errs = append(errs, fmt.Errorf("lock ttl must be at least 1s, got %s", c.Lock.TTL.Duration))
	}
	if c.Lock.Wait.Duration < 0 {
		errs = append(errs, errors.New("lock wait must not be negative"))
	}
	if _, err := migration.ParseVersion(c.Baseline.Version); err != nil {
		errs = append(errs, fmt.Errorf("baseline: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Cassandra builds the connection settings.
func (c *Config) Cassandra() (cassandra.Config, error) {
	consistency, err := parseConsistency(c.Keyspace.Consistency)
	if err != nil {
		return cassandra.Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	serial, err := parseSerialConsistency(c.Keyspace.SerialConsistency)
	if err != nil {
		return cassandra.Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return cassandra.Config{
		ContactPoints:     c.Cluster.ContactPoints,
		Port:              c.Cluster.Port,
		Keyspace:          c.Keyspace.Name,
		Table:             c.Keyspace.Table,
		Username:          c.Cluster.Username,
		Password:          c.Cluster.Password,
		Consistency:       consistency,
		SerialConsistency: serial,
		Timeout:           c.Cluster.Timeout.Duration,
		ConnectRetries:    c.Cluster.ConnectRetries,
	}, nil
}

func parseConsistency(name string) (gocql.Consistency, error) {
	var consistency gocql.Consistency
	if err := consistency.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(name)))); err != nil {
		return 0, fmt.Errorf("consistency %q: %w", name, err)
	}
	return consistency, nil
}

func parseSerialConsistency(name string) (gocql.SerialConsistency, error) {
	var consistency gocql.SerialConsistency
	if err := consistency.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(name)))); err != nil {
		return 0, fmt.Errorf("serial consistency %q: %w", name, err)
	}
	return consistency, nil
}
