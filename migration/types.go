package migration

import (
	"strings"
	"time"
)

type Type string

const (
	TypeCQL      Type = "CQL"
	TypeCode     Type = "CODE"
	TypeBaseline Type = "BASELINE"
	TypeUnknown  Type = "UNKNOWN"
)

// ParseType maps a stored type name to a Type. Rows written by the JVM
// cassandra-migration tool use JAVA_DRIVER for code migrations.
func ParseType(name string) Type {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "CQL":
		return TypeCQL
	case "CODE", "JAVA_DRIVER":
		return TypeCode
	case "BASELINE":
		return TypeBaseline
	default:
		return TypeUnknown
	}
}

// ---

const BaselineDescription = "<< Baseline >>"

// Descriptor is a migration unit found by a source.
type Descriptor struct {
	Version     Version
	Description string
	Type        Type
	Script      string
	Checksum    int32

	// Locator is opaque to everything but the runner of Type.
	Locator string
}

// Applied is a row of the history table.
type Applied struct {
	InstalledRank int
	Version       Version
	Description   string
	Type          Type
	Script        string
	Checksum      int32
	InstalledBy   string
	InstalledOn   time.Time
	ExecutionTime time.Duration
	Success       bool
}

func (a Applied) IsBaseline() bool {
	return a.Type == TypeBaseline
}

// ---

type State uint

const (
	StatePending State = iota
	StateApplied
	StateOutOfOrder
	StateIgnored
	StateBaseline
	StateFailed
	StateFuture
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateApplied:
		return "Success"
	case StateOutOfOrder:
		return "Out of order"
	case StateIgnored:
		return "Ignored"
	case StateBaseline:
		return "Baseline"
	case StateFailed:
		return "Failed"
	case StateFuture:
		return "Future"
	default:
		return "Unknown"
	}
}

// Info is the reconciled view of one version: what the sources know about it
// and what the history table recorded.
type Info struct {
	Descriptor *Descriptor
	Record     *Applied
	State      State

	// Skipped marks a pending version below the current one that will not be
	// applied because out-of-order migrations are disabled.
	Skipped bool
}

func (i Info) Version() Version {
	if i.Descriptor != nil {
		return i.Descriptor.Version
	}
	if i.Record != nil {
		return i.Record.Version
	}
	return Undefined
}

func (i Info) Description() string {
	if i.Descriptor != nil {
		return i.Descriptor.Description
	}
	if i.Record != nil {
		return i.Record.Description
	}
	return ""
}

func (i Info) Type() Type {
	if i.Record != nil && (i.Descriptor == nil || i.State == StateBaseline) {
		return i.Record.Type
	}
	if i.Descriptor != nil {
		return i.Descriptor.Type
	}
	return TypeUnknown
}

func (i Info) Script() string {
	if i.Descriptor != nil {
		return i.Descriptor.Script
	}
	if i.Record != nil {
		return i.Record.Script
	}
	return ""
}

// InstalledOn is nil for versions without a history row.
func (i Info) InstalledOn() *time.Time {
	if i.Record == nil {
		return nil
	}
	t := i.Record.InstalledOn
	return &t
}

func (i Info) IsApplied() bool {
	return i.Record != nil
}
