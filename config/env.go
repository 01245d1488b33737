package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const EnvPrefix = "CASSMIG_"

// Environment merges the CASSMIG_* variables of a dotenv file (optional) and of
// environ, which wins.
func Environment(dotenvPath string, environ []string) (map[string]string, error) {
	values := map[string]string{}

	if dotenvPath != "" {
		read, err := godotenv.Read(dotenvPath)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read %s: %w", ErrInvalidConfig, dotenvPath, err)
		}
		for key, value := range read {
			if strings.HasPrefix(key, EnvPrefix) {
				values[key] = value
			}
		}
	}

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(key, EnvPrefix) {
			values[key] = value
		}
	}

	return values, nil
}

// Apply overrides the settings named by values.
func (c *Config) Apply(values map[string]string) error {
	for key, value := range values {
		setter, ok := envSetters[strings.TrimPrefix(key, EnvPrefix)]
		if !ok {
			continue
		}
		if err := setter(c, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
		}
	}
	return nil
}

var envSetters = map[string]func(*Config, string) error{ // nolint:gochecknoglobals
	"LOCATIONS": func(c *Config, v string) error {
		c.Locations = splitList(v)
		return nil
	},
	"OUT_OF_ORDER": func(c *Config, v string) (err error) {
		c.AllowOutOfOrder, err = strconv.ParseBool(v)
		return err
	},
	"IGNORE_FUTURE": func(c *Config, v string) (err error) {
		c.IgnoreFuture, err = strconv.ParseBool(v)
		return err
	},
	"INSTALLED_BY": func(c *Config, v string) error {
		c.InstalledBy = v
		return nil
	},
	"KEYSPACE": func(c *Config, v string) error {
		c.Keyspace.Name = v
		return nil
	},
	"TABLE": func(c *Config, v string) error {
		c.Keyspace.Table = v
		return nil
	},
	"CONSISTENCY": func(c *Config, v string) error {
		c.Keyspace.Consistency = v
		return nil
	},
	"SERIAL_CONSISTENCY": func(c *Config, v string) error {
		c.Keyspace.SerialConsistency = v
		return nil
	},
	"CONTACT_POINTS": func(c *Config, v string) error {
		c.Cluster.ContactPoints = splitList(v)
		return nil
	},
	"PORT": func(c *Config, v string) (err error) {
		c.Cluster.Port, err = strconv.Atoi(v)
		return err
	},
	"USERNAME": func(c *Config, v string) error {
		c.Cluster.Username = v
		return nil
	},
	"PASSWORD": func(c *Config, v string) error {
		c.Cluster.Password = v
		return nil
	},
	"TIMEOUT": func(c *Config, v string) error {
		return c.Cluster.Timeout.UnmarshalText([]byte(v))
	},
	"CONNECT_RETRIES": func(c *Config, v string) (err error) {
		c.Cluster.ConnectRetries, err = strconv.ParseUint(v, 10, 64)
		return err
	},
	"BASELINE_VERSION": func(c *Config, v string) error {
		c.Baseline.Version = v
		return nil
	},
	"BASELINE_DESCRIPTION": func(c *Config, v string) error {
		c.Baseline.Description = v
		return nil
	},
	"LOCK_TTL": func(c *Config, v string) error {
		return c.Lock.TTL.UnmarshalText([]byte(v))
	},
	"LOCK_WAIT": func(c *Config, v string) error {
		return c.Lock.Wait.UnmarshalText([]byte(v))
	},
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
