package migration_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-talis/cassmig/migration"
)

var parseVersionTests = []struct { // nolint:gochecknoglobals
	name        string
	text        string
	expectError bool
	expectedStr string
	expectedKey string
}{
	// -- success cases: ---
	/* s0 */ {name: "test s0: single segment", text: "1", expectedStr: "1", expectedKey: "1"},
	/* s1 */ {name: "test s1: three segments", text: "1.0.0", expectedStr: "1.0.0", expectedKey: "1"},
	/* s2 */ {name: "test s2: two segments keep original text", text: "3.0", expectedStr: "3.0", expectedKey: "3"},
	/* s3 */ {name: "test s3: dash separator", text: "2.1-rc1", expectedStr: "2.1-rc1", expectedKey: "2.1.rc1"},
	/* s4 */ {name: "test s4: leading zeros", text: "01.002", expectedStr: "01.002", expectedKey: "1.2"},
	/* s5 */ {name: "test s5: surrounding spaces are trimmed", text: " 3.0.1 ", expectedStr: "3.0.1", expectedKey: "3.0.1"},
	/* s6 */ {name: "test s6: zero", text: "0.0", expectedStr: "0.0", expectedKey: "0"},

	// -- error cases: -----
	/* e0 */ {name: "test e0: empty", text: "", expectError: true},
	/* e1 */ {name: "test e1: blank", text: "   ", expectError: true},
	/* e2 */ {name: "test e2: empty segment", text: "1..2", expectError: true},
	/* e3 */ {name: "test e3: leading separator", text: ".1", expectError: true},
	/* e4 */ {name: "test e4: trailing separator", text: "1.", expectError: true},
	/* e5 */ {name: "test e5: bad symbol", text: "1.0_1", expectError: true},
	/* e6 */ {name: "test e6: inner space", text: "1. 0", expectError: true},
}

func TestParseVersion(t *testing.T) {
	t.Parallel()

	for _, test := range parseVersionTests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			v, err := migration.ParseVersion(test.text)

			if test.expectError {
				assert.ErrorIs(t, err, migration.ErrInvalidVersion)
				var parseErr *migration.ParseError
				assert.ErrorAs(t, err, &parseErr)
				assert.True(t, v.IsUndefined())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.expectedStr, v.String())
			assert.Equal(t, test.expectedKey, v.Key())
		})
	}
}

var compareVersionTests = []struct { // nolint:gochecknoglobals
	a, b     string
	expected int
}{
	/* s0 */ {a: "1", b: "1.0.0", expected: 0},
	/* s1 */ {a: "1.0.0", b: "2.0.0", expected: -1},
	/* s2 */ {a: "3.0", b: "3.0.1", expected: -1},
	/* s3 */ {a: "10", b: "9", expected: 1},
	/* s4 */ {a: "1.1.1", b: "4.0.0", expected: -1},
	/* s5 */ {a: "1.0.a", b: "1.0.1", expected: 1},
	/* s6 */ {a: "1.0.a", b: "1.0.b", expected: -1},
	/* s7 */ {a: "1-1", b: "1.1", expected: 0},
	/* s8 */ {a: "007", b: "7", expected: 0},
	/* s9 */ {a: "123456789012345678901234567890", b: "123456789012345678901234567891", expected: -1},
}

func TestVersionCompare(t *testing.T) {
	t.Parallel()

	for _, test := range compareVersionTests {
		a := migration.MustParseVersion(test.a)
		b := migration.MustParseVersion(test.b)

		assert.Equal(t, test.expected, a.Compare(b), "%s vs %s", test.a, test.b)
		assert.Equal(t, -test.expected, b.Compare(a), "%s vs %s", test.b, test.a)
		assert.Equal(t, test.expected == 0, a.Equal(b))
		if test.expected == 0 {
			assert.Equal(t, a.Key(), b.Key())
		}
	}
}

func TestVersionSentinels(t *testing.T) {
	t.Parallel()

	v := migration.MustParseVersion("0")

	assert.True(t, migration.Undefined.Less(v))
	assert.True(t, v.Less(migration.Current))
	assert.True(t, migration.Undefined.Less(migration.Current))
	assert.True(t, migration.Undefined.Equal(migration.Version{}))
	assert.True(t, migration.Current.IsCurrent())
	assert.False(t, v.IsCurrent())
	assert.False(t, v.IsUndefined())
}

func TestVersionSort(t *testing.T) {
	t.Parallel()

	texts := []string{"4.0.0", "3.0.1", "1.1.1", "3.0", "2.0.0", "1.0.0"}
	versions := make([]migration.Version, len(texts))
	for i, text := range texts {
		versions[i] = migration.MustParseVersion(text)
	}

	sort.Slice(versions, func(i, j int) bool { return versions[i].Less(versions[j]) })

	sorted := make([]string, len(versions))
	for i, v := range versions {
		sorted[i] = v.String()
	}
	assert.Equal(t, []string{"1.0.0", "1.1.1", "2.0.0", "3.0", "3.0.1", "4.0.0"}, sorted)
}

func TestVersionText(t *testing.T) {
	t.Parallel()

	var v migration.Version
	require.NoError(t, v.UnmarshalText([]byte("2.0.0")))
	assert.Equal(t, "2.0.0", v.String())

	text, err := v.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", string(text))

	require.NoError(t, v.UnmarshalText(nil))
	assert.True(t, v.IsUndefined())

	assert.Error(t, v.UnmarshalText([]byte("x..y")))
}

func TestParseType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, migration.TypeCQL, migration.ParseType("cql"))
	assert.Equal(t, migration.TypeCode, migration.ParseType("CODE"))
	assert.Equal(t, migration.TypeCode, migration.ParseType("JAVA_DRIVER"))
	assert.Equal(t, migration.TypeBaseline, migration.ParseType("BASELINE"))
	assert.Equal(t, migration.TypeUnknown, migration.ParseType("SQL"))
}
