package cassandra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"

	"github.com/root-talis/cassmig/driver"
)

var identifierTests = []struct { // nolint:gochecknoglobals
	name  string
	ident string
	valid bool
}{
	/* s0 */ {name: "test s0: plain name", ident: "my_keyspace", valid: true},
	/* s1 */ {name: "test s1: leading underscore", ident: "_x1", valid: true},
	/* s2 */ {name: "test s2: 48 characters", ident: strings.Repeat("a", 48), valid: true},

	/* e0 */ {name: "test e0: empty", ident: ""},
	/* e1 */ {name: "test e1: leading digit", ident: "1abc"},
	/* e2 */ {name: "test e2: 49 characters", ident: strings.Repeat("a", 49)},
	/* e3 */ {name: "test e3: injection", ident: "ks; DROP KEYSPACE ks"},
	/* e4 */ {name: "test e4: quoted", ident: `"ks"`},
	/* e5 */ {name: "test e5: dotted", ident: "ks.table"},
}

func TestValidateIdentifier(t *testing.T) {
	t.Parallel()

	for _, test := range identifierTests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			err := validateIdentifier(test.ident)
			if test.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, driver.ErrInvalidIdentifier)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{ContactPoints: []string{"localhost"}, Keyspace: "App_Data"}.withDefaults()

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultTable, cfg.Table)
	assert.Equal(t, "app_data", cfg.Keyspace)
	assert.Equal(t, gocql.Quorum, cfg.Consistency)
	assert.Equal(t, gocql.LocalSerial, cfg.SerialConsistency)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.NotNil(t, cfg.Logger)
	assert.NoError(t, cfg.validate())

	// the lock table name must fit too
	cfg.Table = strings.Repeat("t", 44)
	assert.ErrorIs(t, cfg.validate(), driver.ErrInvalidIdentifier)

	cfg = Config{Keyspace: "ks"}.withDefaults()
	assert.Error(t, cfg.validate())
}

func TestConnectRejectsBadKeyspace(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), Config{
		ContactPoints: []string{"127.0.0.1"},
		Keyspace:      "bad-keyspace",
	})
	assert.ErrorIs(t, err, driver.ErrInvalidIdentifier)
}

func TestStoreError(t *testing.T) {
	t.Parallel()

	err := storeError("read", gocql.ErrNoConnections)
	assert.ErrorIs(t, err, driver.ErrStoreUnavailable)
	assert.ErrorIs(t, err, gocql.ErrNoConnections)

	err = storeError("read", &gocql.RequestErrWriteTimeout{})
	assert.ErrorIs(t, err, driver.ErrStoreUnavailable)

	err = storeError("read", fmt.Errorf("wrapped: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, err, driver.ErrStoreUnavailable)

	errSyntax := errors.New("line 1:0 no viable alternative")
	err = storeError("read", errSyntax)
	assert.NotErrorIs(t, err, driver.ErrStoreUnavailable)
	assert.ErrorIs(t, err, errSyntax)
}

func TestTTLSeconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, ttlSeconds(0))
	assert.Equal(t, 1, ttlSeconds(300*time.Millisecond))
	assert.Equal(t, 30, ttlSeconds(30*time.Second))
}
