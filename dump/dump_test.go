package dump_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/root-talis/cassmig/dump"
	"github.com/root-talis/cassmig/migration"
)

func sample() []migration.Info {
	first := migration.Descriptor{
		Version:     migration.MustParseVersion("1.0.0"),
		Description: "First",
		Type:        migration.TypeCQL,
		Script:      "V1_0_0__First.cql",
		Checksum:    12345,
	}
	late := migration.Descriptor{
		Version:     migration.MustParseVersion("1.1.1"),
		Description: "Late arrival",
		Type:        migration.TypeCQL,
		Script:      "V1_1_1__Late_arrival.cql",
		Checksum:    -42,
	}
	third := migration.Descriptor{
		Version:     migration.MustParseVersion("3.0"),
		Description: "Third",
		Type:        migration.TypeCode,
		Script:      "main.third",
	}
	fourth := migration.Descriptor{
		Version:     migration.MustParseVersion("4.0.0"),
		Description: "Fourth",
		Type:        migration.TypeCQL,
		Script:      "V4_0_0__Fourth.cql",
		Checksum:    7,
	}

	return []migration.Info{
		{
			Descriptor: &first,
			Record: &migration.Applied{
				InstalledRank: 1,
				Version:       first.Version,
				Description:   first.Description,
				Type:          first.Type,
				Script:        first.Script,
				Checksum:      first.Checksum,
				InstalledBy:   "tester",
				InstalledOn:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
				ExecutionTime: 15 * time.Millisecond,
				Success:       true,
			},
			State: migration.StateApplied,
		},
		{Descriptor: &late, State: migration.StatePending, Skipped: true},
		{
			Descriptor: &third,
			Record: &migration.Applied{
				InstalledRank: 2,
				Version:       third.Version,
				Description:   third.Description,
				Type:          third.Type,
				Script:        third.Script,
				InstalledBy:   "tester",
				InstalledOn:   time.Date(2024, 1, 2, 3, 5, 0, 0, time.UTC),
				ExecutionTime: 2 * time.Millisecond,
				Success:       true,
			},
			State: migration.StateApplied,
		},
		{Descriptor: &fourth, State: migration.StatePending},
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		format dump.Format
		err    error
	}{
		/* s0 */ {name: "default", input: "", format: dump.FormatTable},
		/* s1 */ {name: "table", input: "table", format: dump.FormatTable},
		/* s2 */ {name: "json", input: " JSON ", format: dump.FormatJSON},
		/* s3 */ {name: "yaml", input: "yaml", format: dump.FormatYAML},
		/* e0 */ {name: "unknown", input: "xml", err: dump.ErrUnknownFormat},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			format, err := dump.ParseFormat(test.input)
			if test.err != nil {
				assert.ErrorIs(t, err, test.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.format, format)
		})
	}
}

func TestWriteGolden(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		format dump.Format
		infos  []migration.Info
	}{
		/* s0 */ {name: "info_table", format: dump.FormatTable, infos: sample()},
		/* s1 */ {name: "info_json", format: dump.FormatJSON, infos: sample()},
		/* s2 */ {name: "empty_table", format: dump.FormatTable},
		/* s3 */ {name: "empty_json", format: dump.FormatJSON},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			require.NoError(t, dump.Write(&out, test.format, test.infos))

			g := goldie.New(t)
			g.Assert(t, test.name, out.Bytes())
		})
	}
}

func TestWriteYAML(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, dump.Write(&out, dump.FormatYAML, sample()))

	var records []dump.Record
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &records))
	assert.Equal(t, dump.Records(sample()), records)
}

func TestRecords(t *testing.T) {
	t.Parallel()

	records := dump.Records(sample())
	require.Len(t, records, 4)

	assert.Equal(t, dump.Record{
		Version:     "1.1.1",
		Description: "Late arrival",
		Type:        "CQL",
		Script:      "V1_1_1__Late_arrival.cql",
		Checksum:    -42,
		State:       "Skipped",
	}, records[1])
	assert.Equal(t, "Success", records[2].State)
	assert.Equal(t, int64(2), records[2].ExecutionTime)

	// rows the sources no longer know keep their recorded checksum
	orphan := migration.Applied{
		Version:     migration.MustParseVersion("0.9"),
		Description: "Gone",
		Type:        migration.TypeCQL,
		Checksum:    99,
		InstalledOn: time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC),
		Success:     true,
	}
	records = dump.Records([]migration.Info{{Record: &orphan, State: migration.StateIgnored}})
	require.Len(t, records, 1)
	assert.Equal(t, int32(99), records[0].Checksum)
	assert.Equal(t, "Ignored", records[0].State)
	assert.Equal(t, "2023-05-06T07:08:09Z", records[0].InstalledOn)
}
