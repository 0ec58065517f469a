// Package index implements the relational index database: the
// patient/study/series/instance/MPPS/worklist tables that back C-FIND,
// C-STORE ingest, and MPPS tracking.
package index

import "time"

// MPPSState is the lifecycle state of a Modality Performed Procedure Step.
type MPPSState string

const (
	MPPSInProgress   MPPSState = "IN_PROGRESS"
	MPPSCompleted    MPPSState = "COMPLETED"
	MPPSDiscontinued MPPSState = "DISCONTINUED"
)

// Patient is one row of the patients table.
type Patient struct {
	PatientID string
	Name      string
	BirthDate string
	Sex       string
}

// Study is one row of the studies table.
type Study struct {
	StudyUID           string
	PatientID          string
	Accession          string
	StudyDate          string
	StudyTime          string
	ReferringPhysician string
	Description        string
}

// Series is one row of the series table.
type Series struct {
	SeriesUID   string
	StudyUID    string
	Modality    string
	Number      string
	Description string
	BodyPart    string
	Station     string
}

// Instance is one row of the instances table.
type Instance struct {
	SOPInstanceUID    string
	SeriesUID         string
	SOPClassUID       string
	Path              string
	Size              int64
	TransferSyntaxUID string
	InstanceNumber    string
}

// MPPS is one row of the mpps table.
type MPPS struct {
	MPPSUID   string
	Station   string
	Modality  string
	StudyUID  string
	Accession string
	StartDT   string
	State     MPPSState

	// Attributes carries whatever N-CREATE/N-SET submitted beyond the
	// columns above (e.g. performed series lists), keyed by tag name.
	Attributes map[string]string

	UpdatedAt time.Time
}

// WorklistStep is one row of the worklist table (a scheduled procedure
// step, as returned by a Modality Worklist C-FIND).
type WorklistStep struct {
	StepID               string
	PatientID            string
	PatientName          string
	BirthDate            string
	Sex                  string
	Accession            string
	RequestedProcID      string
	StudyUID             string
	ScheduledDT          string
	StationAE            string
	StationName          string
	Modality             string
	ProcedureDescription string
	ReferringPhysician   string
	ReferringPhysicianID string
}
