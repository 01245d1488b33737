package cassmig

import (
	"fmt"
	"sort"
	"strings"

	"github.com/root-talis/cassmig/migration"
)

// Policy decides how versions that do not fit the applied history are treated.
type Policy struct {
	// OutOfOrder admits pending versions below the highest applied one.
	OutOfOrder bool

	// IgnoreFuture keeps validate quiet about history rows above every
	// version known to the sources, e.g. during a rolling deployment.
	IgnoreFuture bool
}

// Problem is one finding of InfoService.Validate.
type Problem struct {
	Version migration.Version
	Message string
}

func (p Problem) String() string {
	return p.Message
}

type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	messages := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		messages[i] = p.Message
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(messages, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// InfoService is the reconciled state of every known version. It is built
// from scratch for every query and never written back.
type InfoService struct {
	infos    []migration.Info
	problems []Problem
	policy   Policy
}

// Reconcile merges a catalog, as returned by source.Resolve, with the
// history of a keyspace. It has no side effects and does not keep references
// to its arguments.
func Reconcile(catalog []migration.Descriptor, history []migration.Applied, policy Policy) *InfoService { //nolint:cyclop,funlen
	svc := &InfoService{policy: policy}

	rows := make([]migration.Applied, len(history))
	copy(rows, history)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].InstalledRank < rows[j].InstalledRank
	})

	descriptors := make([]migration.Descriptor, 0, len(catalog))
	for _, descr := range catalog {
		// synthetic baseline entries of a catalog are superseded by the marker row
		if descr.Type != migration.TypeBaseline {
			descriptors = append(descriptors, descr)
		}
	}

	var (
		baseline *migration.Applied
		byKey    = make(map[string]*migration.Applied, len(rows))
		counts   = make(map[string]int, len(rows))
		versions = make(map[string]migration.Version, len(rows)+len(descriptors))
	)

	for i := range rows {
		row := &rows[i]
		switch {
		case row.Version.IsUndefined():
			svc.infos = append(svc.infos, migration.Info{Record: row, State: migration.StateIgnored})
			svc.report(row.Version, "history row #%d has an undefined version", row.InstalledRank)

		case row.Type == migration.TypeUnknown:
			svc.infos = append(svc.infos, migration.Info{Record: row, State: migration.StateIgnored})
			svc.report(row.Version, "history row #%d of version %s has an unknown type", row.InstalledRank, row.Version)

		case row.IsBaseline():
			if baseline != nil {
				svc.report(row.Version, "history row #%d is a second baseline marker", row.InstalledRank)
				continue
			}
			baseline = row
			versions[row.Version.Key()] = row.Version

		default:
			key := row.Version.Key()
			byKey[key] = row
			counts[key]++
			versions[key] = row.Version
		}
	}

	catalogByKey := make(map[string]*migration.Descriptor, len(descriptors))
	var latestResolved *migration.Version
	for i := range descriptors {
		descr := &descriptors[i]
		catalogByKey[descr.Version.Key()] = descr
		versions[descr.Version.Key()] = descr.Version
		if latestResolved == nil || latestResolved.Less(descr.Version) {
			latestResolved = &descr.Version
		}
	}

	var highestApplied *migration.Version
	if baseline != nil {
		highestApplied = &baseline.Version
	}
	for _, row := range byKey {
		if row.Success && (highestApplied == nil || highestApplied.Less(row.Version)) {
			highestApplied = &row.Version
		}
	}

	keys := make([]string, 0, len(versions))
	for key := range versions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return versions[keys[i]].Less(versions[keys[j]])
	})

	for _, key := range keys {
		descr, row := catalogByKey[key], byKey[key]

		if counts[key] > 1 {
			svc.report(row.Version, "version %s is recorded %d times in the history table", row.Version, counts[key])
		}

		if baseline != nil && key == baseline.Version.Key() {
			info := migration.Info{Record: baseline, State: migration.StateBaseline}
			if row == nil {
				info.Descriptor = descr
			}
			svc.infos = append(svc.infos, info)
			if row == nil {
				continue
			}
			svc.report(row.Version, "history row #%d shares the baseline version %s", row.InstalledRank, baseline.Version)
		}

		switch {
		case row != nil && !row.Success:
			svc.infos = append(svc.infos, migration.Info{Descriptor: descr, Record: row, State: migration.StateFailed})
			svc.report(row.Version, "detected failed migration to version %s (%s)", row.Version, row.Description)

		case row != nil && descr != nil:
			svc.infos = append(svc.infos, migration.Info{Descriptor: descr, Record: row, State: migration.StateApplied})
			svc.checkDrift(descr, row)

		case row != nil:
			if latestResolved == nil || latestResolved.Less(row.Version) {
				svc.infos = append(svc.infos, migration.Info{Record: row, State: migration.StateFuture})
				if !policy.IgnoreFuture {
					svc.report(row.Version, "detected applied migration newer than any resolved locally: %s", row.Version)
				}
			} else {
				svc.infos = append(svc.infos, migration.Info{Record: row, State: migration.StateIgnored})
				svc.report(row.Version, "detected applied migration not resolved locally: %s", row.Version)
			}

		case baseline != nil && !baseline.Version.Less(descr.Version):
			svc.infos = append(svc.infos, migration.Info{Descriptor: descr, State: migration.StateIgnored})

		case highestApplied != nil && descr.Version.Less(*highestApplied):
			if policy.OutOfOrder {
				svc.infos = append(svc.infos, migration.Info{Descriptor: descr, State: migration.StateOutOfOrder})
			} else {
				svc.infos = append(svc.infos, migration.Info{Descriptor: descr, State: migration.StatePending, Skipped: true})
			}

		default:
			svc.infos = append(svc.infos, migration.Info{Descriptor: descr, State: migration.StatePending})
		}
	}

	return svc
}

func (svc *InfoService) checkDrift(descr *migration.Descriptor, row *migration.Applied) {
	if descr.Type != row.Type {
		svc.report(row.Version, "migration type mismatch for version %s: applied to database = %s, resolved locally = %s",
			row.Version, row.Type, descr.Type)
	}
	if descr.Checksum != row.Checksum {
		svc.report(row.Version, "migration checksum mismatch for version %s: applied to database = %d, resolved locally = %d",
			row.Version, row.Checksum, descr.Checksum)
	}
	if descr.Description != row.Description {
		svc.report(row.Version, "migration description mismatch for version %s: applied to database = %q, resolved locally = %q",
			row.Version, row.Description, descr.Description)
	}
}

func (svc *InfoService) report(version migration.Version, format string, args ...any) {
	svc.problems = append(svc.problems, Problem{
		Version: version,
		Message: fmt.Sprintf(format, args...),
	})
}

// ---

// All returns every known version in ascending order. Unreadable history rows
// come first.
func (svc *InfoService) All() []migration.Info {
	out := make([]migration.Info, len(svc.infos))
	copy(out, svc.infos)
	return out
}

// Pending returns what migrate would apply, in the order it would apply it.
func (svc *InfoService) Pending() []migration.Info {
	return svc.filter(func(info migration.Info) bool {
		return info.State == migration.StateOutOfOrder ||
			(info.State == migration.StatePending && !info.Skipped)
	})
}

// Skipped returns pending versions that are held back because out-of-order
// migrations are disabled.
func (svc *InfoService) Skipped() []migration.Info {
	return svc.filter(func(info migration.Info) bool {
		return info.State == migration.StatePending && info.Skipped
	})
}

func (svc *InfoService) Applied() []migration.Info {
	return svc.filter(migration.Info.IsApplied)
}

// Current is the highest successfully applied version, or nil if there is none.
func (svc *InfoService) Current() *migration.Info {
	var current *migration.Info
	for i := range svc.infos {
		info := &svc.infos[i]
		if info.Record == nil || !info.Record.Success || info.Record.Version.IsUndefined() {
			continue
		}
		if current == nil || !info.Version().Less(current.Version()) {
			current = info
		}
	}
	if current == nil {
		return nil
	}
	out := *current
	return &out
}

// Resolve turns migration.Current into the version it stands for.
func (svc *InfoService) Resolve(version migration.Version) migration.Version {
	if !version.IsCurrent() {
		return version
	}
	if current := svc.Current(); current != nil {
		return current.Version()
	}
	return migration.Undefined
}

// Validate returns nil or a *ValidationError listing every problem found.
func (svc *InfoService) Validate() error {
	if len(svc.problems) == 0 {
		return nil
	}
	problems := make([]Problem, len(svc.problems))
	copy(problems, svc.problems)
	return &ValidationError{Problems: problems}
}

func (svc *InfoService) filter(keep func(migration.Info) bool) []migration.Info {
	out := make([]migration.Info, 0)
	for _, info := range svc.infos {
		if keep(info) {
			out = append(out, info)
		}
	}
	return out
}
