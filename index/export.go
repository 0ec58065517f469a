package index

import (
	"sort"

	"github.com/dicomnet/dicomnet/types"
)

// MatchesQuery exposes the C-FIND filter predicate memory.go uses
// internally, so an out-of-package Store (internal/indexstore/gormstore)
// applies exactly the same empty/exact/wildcard/range semantics rather
// than a second, potentially diverging implementation.
func MatchesQuery(q types.QueryRequest, pa Patient, st Study, se Series, inst Instance) bool {
	return matchesQuery(q, pa, st, se, inst)
}

// SortInstanceMatches orders matches ascending by the query level's
// primary UID, in place.
func SortInstanceMatches(level types.QueryLevel, matches []InstanceMatch) {
	sort.Slice(matches, func(i, j int) bool {
		return primaryUID(level, matches[i]) < primaryUID(level, matches[j])
	})
}

// FilterWorklist applies a WorklistFilter to a slice of steps and
// returns the matches, sorted by StepID, the same way MemoryStore does.
func FilterWorklist(filter WorklistFilter, steps []WorklistStep) []WorklistStep {
	var matches []WorklistStep
	for _, w := range steps {
		if !matchField(filter.PatientID, w.PatientID) {
			continue
		}
		if !matchField(filter.PatientName, w.PatientName) {
			continue
		}
		if !matchField(filter.Accession, w.Accession) {
			continue
		}
		if filter.ScheduledDate != "" {
			if isRangeField(filter.ScheduledDate) {
				if !matchRange(filter.ScheduledDate, w.ScheduledDT) {
					continue
				}
			} else if !matchField(filter.ScheduledDate, w.ScheduledDT) {
				continue
			}
		}
		if !matchField(filter.StationAE, w.StationAE) {
			continue
		}
		if !matchField(filter.Modality, w.Modality) {
			continue
		}
		if !matchField(filter.ReferringPhysician, w.ReferringPhysician) {
			continue
		}
		matches = append(matches, w)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].StepID < matches[j].StepID })
	return matches
}

// NewSliceCursor builds a Cursor over an already-materialized slice, for
// Store implementations (like gormstore) that run one query and then
// stream the decoded rows rather than holding a live DB cursor open.
func NewSliceCursor[T any](items []T) Cursor[T] {
	return newSliceCursor(items)
}
