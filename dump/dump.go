// Package dump prints the reconciled migration list.
package dump

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/root-talis/cassmig/migration"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

var ErrUnknownFormat = errors.New("unknown output format")

func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("%w: %q (expected table, json or yaml)", ErrUnknownFormat, name)
	}
}

// ---

// Record is the printable form of a migration.Info.
type Record struct {
	Version       string `json:"version"                     yaml:"version"`
	Description   string `json:"description"                 yaml:"description"`
	Type          string `json:"type"                        yaml:"type"`
	Script        string `json:"script,omitempty"            yaml:"script,omitempty"`
	Checksum      int32  `json:"checksum"                    yaml:"checksum"`
	InstalledBy   string `json:"installed_by,omitempty"      yaml:"installed_by,omitempty"`
	InstalledOn   string `json:"installed_on,omitempty"      yaml:"installed_on,omitempty"`
	ExecutionTime int64  `json:"execution_time_ms,omitempty" yaml:"execution_time_ms,omitempty"`
	State         string `json:"state"                       yaml:"state"`
}

func Records(infos []migration.Info) []Record {
	records := make([]Record, 0, len(infos))
	for _, info := range infos {
		rec := Record{
			Version:     info.Version().String(),
			Description: info.Description(),
			Type:        string(info.Type()),
			Script:      info.Script(),
			State:       StateLabel(info),
		}
		if info.Descriptor != nil {
			rec.Checksum = info.Descriptor.Checksum
		}
		if info.Record != nil {
			if info.Descriptor == nil {
				rec.Checksum = info.Record.Checksum
			}
			rec.InstalledBy = info.Record.InstalledBy
			rec.InstalledOn = info.Record.InstalledOn.UTC().Format(time.RFC3339)
			rec.ExecutionTime = info.Record.ExecutionTime.Milliseconds()
		}
		records = append(records, rec)
	}
	return records
}

// StateLabel is State.String, except for pending versions that migrate will
// not apply because they arrived below the current version.
func StateLabel(info migration.Info) string {
	if info.Skipped {
		return "Skipped"
	}
	return info.State.String()
}

// ---

func Write(w io.Writer, format Format, infos []migration.Info) error {
	switch format {
	case FormatTable, "":
		return WriteTable(w, infos)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(Records(infos))
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(Records(infos)); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}
