package index

import (
	"context"

	"github.com/dicomnet/dicomnet/types"
)

// InstanceMatch is one row of a find_instances result: the matched
// instance plus the parent attributes needed to answer a C-FIND at any
// level, so callers never need a second round trip to stitch the
// response dataset together.
type InstanceMatch struct {
	Patient  Patient
	Study    Study
	Series   Series
	Instance Instance
}

// Cursor streams a find_instances or worklist_search result set without
// materializing it all in memory, for C-FIND responses with large match
// counts. Next advances the cursor and reports whether a value is ready;
// callers must check Err after Next returns false.
type Cursor[T any] interface {
	Next(ctx context.Context) bool
	Value() T
	Err() error
	Close() error
}

// Store is the relational index backing C-FIND, C-STORE ingest, MPPS
// tracking, and modality worklist. Implementations must run any mutation
// spanning more than one table inside a single transaction, and must let
// readers proceed concurrently with writers (snapshot isolation).
type Store interface {
	UpsertPatient(ctx context.Context, p Patient) error
	UpsertStudy(ctx context.Context, s Study) error
	UpsertSeries(ctx context.Context, s Series) error
	UpsertInstance(ctx context.Context, i Instance) error

	// FindInstances evaluates a C-FIND query identifier against the
	// index and streams matches ordered ascending by the query level's
	// primary UID.
	FindInstances(ctx context.Context, query types.QueryRequest) (Cursor[InstanceMatch], error)

	// DeleteStudy removes a study and cascades to its series and
	// instances. DeletePatient is refused (ErrPatientHasStudies) while
	// the patient has any studies remaining.
	DeleteStudy(ctx context.Context, studyUID string) error
	DeletePatient(ctx context.Context, patientID string) error

	CreateMPPS(ctx context.Context, m MPPS) error

	// UpdateMPPS applies the state machine: IN_PROGRESS -> {COMPLETED,
	// DISCONTINUED} only. Any other transition returns *errors.MPPSError
	// and leaves the stored state unchanged. attributes are merged into
	// the existing MPPS.Attributes.
	UpdateMPPS(ctx context.Context, uid string, newState MPPSState, attributes map[string]string) error
	FindMPPS(ctx context.Context, uid string) (MPPS, bool, error)

	UpsertWorklistStep(ctx context.Context, w WorklistStep) error
	WorklistSearch(ctx context.Context, filter WorklistFilter) (Cursor[WorklistStep], error)
}

// WorklistFilter mirrors types.QueryRequest's matching rules (empty,
// exact, wildcard, range) but over the worklist's own column set, since
// modality worklist queries are not expressed at a PATIENT/STUDY/SERIES
// query level.
type WorklistFilter struct {
	PatientID          string
	PatientName        string
	Accession          string
	ScheduledDate      string
	StationAE          string
	Modality           string
	ReferringPhysician string
}
