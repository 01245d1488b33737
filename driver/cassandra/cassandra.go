package cassandra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gocql/gocql"

	"github.com/root-talis/cassmig/driver"
)

const (
	DefaultTable          = "cassandra_migration_version"
	DefaultPort           = 9042
	DefaultTimeout        = 10 * time.Second
	DefaultConnectRetries = 5
)

type Config struct {
	ContactPoints     []string
	Port              int
	Keyspace          string
	Table             string
	Username          string
	Password          string
	Consistency       gocql.Consistency
	SerialConsistency gocql.SerialConsistency
	Timeout           time.Duration
	ConnectRetries    uint64
	ProtoVersion      int
	Logger            *slog.Logger

	// DisableHostLookup connects to the contact points only, which is needed
	// when the nodes advertise addresses the client cannot reach.
	DisableHostLookup bool
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.Consistency == 0 {
		c.Consistency = gocql.Quorum
	}
	if c.SerialConsistency == 0 {
		c.SerialConsistency = gocql.LocalSerial
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Keyspace = strings.ToLower(c.Keyspace)
	c.Table = strings.ToLower(c.Table)
	return c
}

func (c Config) validate() error {
	if len(c.ContactPoints) == 0 {
		return errors.New("no contact points configured")
	}
	if err := validateIdentifier(c.Keyspace); err != nil {
		return fmt.Errorf("keyspace: %w", err)
	}
	if err := validateIdentifier(c.Table + lockTableSuffix); err != nil {
		return fmt.Errorf("table: %w", err)
	}
	return nil
}

// ---

// Connector opens a new session for every Connect and closes it with the
// returned connection.
type Connector struct {
	Config Config
}

func (c Connector) Connect(ctx context.Context) (driver.Conn, error) {
	return Connect(ctx, c.Config)
}

// Connect checks that the keyspace exists and opens a session bound to it.
// Session creation is retried with exponential backoff.
func Connect(ctx context.Context, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	bare, err := createSession(ctx, cfg, newCluster(cfg, ""))
	if err != nil {
		return nil, err
	}
	exists, err := keyspaceExists(ctx, bare, cfg.Keyspace)
	bare.Close()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", driver.ErrKeyspaceNotFound, cfg.Keyspace)
	}

	session, err := createSession(ctx, cfg, newCluster(cfg, cfg.Keyspace))
	if err != nil {
		return nil, err
	}

	return &Conn{session: session, cfg: cfg, owned: true}, nil
}

// Wrap uses a session owned by the caller. Closing the returned connection
// leaves the session open.
func Wrap(session *gocql.Session, cfg Config) (*Conn, error) {
	if session == nil {
		return nil, errors.New("nil session")
	}
	cfg = cfg.withDefaults()
	if err := validateIdentifier(cfg.Keyspace); err != nil {
		return nil, fmt.Errorf("keyspace: %w", err)
	}
	if err := validateIdentifier(cfg.Table + lockTableSuffix); err != nil {
		return nil, fmt.Errorf("table: %w", err)
	}
	return &Conn{session: session, cfg: cfg}, nil
}

func newCluster(cfg Config, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.ContactPoints...)
	cluster.Port = cfg.Port
	cluster.Keyspace = keyspace
	cluster.Consistency = cfg.Consistency
	cluster.SerialConsistency = cfg.SerialConsistency
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.Timeout
	cluster.DisableInitialHostLookup = cfg.DisableHostLookup
	if cfg.ProtoVersion != 0 {
		cluster.ProtoVersion = cfg.ProtoVersion
	}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	return cluster
}

func createSession(ctx context.Context, cfg Config, cluster *gocql.ClusterConfig) (*gocql.Session, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.ConnectRetries),
		ctx,
	)

	var session *gocql.Session
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		session, err = cluster.CreateSession()
		if err != nil {
			cfg.Logger.Warn("failed to connect to cassandra",
				"hosts", cfg.ContactPoints,
				"attempt", attempt,
				"error", err)
		}
		return err
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %v: %w", driver.ErrStoreUnavailable, cfg.ContactPoints, err)
	}
	return session, nil
}

func keyspaceExists(ctx context.Context, session *gocql.Session, keyspace string) (bool, error) {
	var name string
	err := session.Query(
		"SELECT keyspace_name FROM system_schema.keyspaces WHERE keyspace_name = ?", keyspace,
	).WithContext(ctx).Scan(&name)
	if errors.Is(err, gocql.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeError("failed to look up keyspace", err)
	}
	return true, nil
}

// ---

type Conn struct {
	session *gocql.Session
	cfg     Config
	owned   bool
}

var _ driver.Conn = (*Conn)(nil)

func (c *Conn) Keyspace() string {
	return c.cfg.Keyspace
}

func (c *Conn) Gocql() *gocql.Session {
	return c.session
}

func (c *Conn) Exec(ctx context.Context, stmt string, args ...any) error {
	return c.session.Query(stmt, args...).WithContext(ctx).Exec()
}

func (c *Conn) Close() error {
	if c.owned {
		c.session.Close()
	}
	return nil
}

// Gocql gives code migrations access to the driver session behind s.
func Gocql(s driver.Session) (*gocql.Session, bool) {
	g, ok := driver.Unwrap(s).(interface{ Gocql() *gocql.Session })
	if !ok {
		return nil, false
	}
	return g.Gocql(), true
}

// ---

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,47}$`)

func validateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", driver.ErrInvalidIdentifier, name)
	}
	return nil
}

func storeError(msg string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%w: %s: %w", driver.ErrStoreUnavailable, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isUnavailable(err error) bool {
	var (
		unavailable  *gocql.RequestErrUnavailable
		readTimeout  *gocql.RequestErrReadTimeout
		writeTimeout *gocql.RequestErrWriteTimeout
		netErr       net.Error
	)
	switch {
	case errors.Is(err, gocql.ErrNoConnections),
		errors.Is(err, gocql.ErrTimeoutNoResponse),
		errors.Is(err, gocql.ErrConnectionClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &unavailable),
		errors.As(err, &readTimeout),
		errors.As(err, &writeTimeout),
		errors.As(err, &netErr):
		return true
	default:
		return false
	}
}
