package types

// QueryLevel represents the level of C-FIND query
type QueryLevel string

const (
	QueryLevelPatient QueryLevel = "PATIENT"
	QueryLevelStudy   QueryLevel = "STUDY"
	QueryLevelSeries  QueryLevel = "SERIES"
	QueryLevelImage   QueryLevel = "IMAGE"
)

// QueryRequest represents a parsed C-FIND query
type QueryRequest struct {
	Level              QueryLevel
	PatientName        string
	PatientID          string
	PatientBirthDate   string
	PatientSex         string
	StudyInstanceUID   string
	StudyID            string
	StudyDate          string
	StudyTime          string
	StudyDescription   string
	Modality           string
	SeriesInstanceUID  string
	SeriesNumber       string
	SeriesDescription  string
	SOPInstanceUID     string
	InstanceNumber     string
	AccessionNumber    string
	ReferringPhysician string
}
