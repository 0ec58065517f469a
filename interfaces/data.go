package interfaces

import (
	"github.com/dicomnet/dicomnet/dicom"
	"github.com/dicomnet/dicomnet/types"
)

// QueryProcessor processes a parsed C-FIND query against whatever backs
// the service (the query cache, the index database, or both).
type QueryProcessor interface {
	ProcessQuery(query *types.QueryRequest) ([]interface{}, error)
}

// DatasetEncoder encodes/decodes DICOM datasets for a negotiated transfer
// syntax. The index database and query cache never see wire bytes
// directly; they exchange *dicom.Dataset with the service dispatcher,
// which uses this interface at the pipeline's decode/encode stages.
type DatasetEncoder interface {
	EncodeDataset(dataset *dicom.Dataset) []byte
	ParseDataset(data []byte) (*dicom.Dataset, error)
}

// BlobStore is the out-of-core collaborator that holds instance bytes,
// keyed by SOP Instance UID. Concrete implementations (local disk,
// Postgres large objects, S3/Azure/HSM tiers) live under internal/ and
// are never imported by the core packages.
type BlobStore interface {
	Put(sopInstanceUID string, data []byte) error
	Get(sopInstanceUID string) ([]byte, error)
	Delete(sopInstanceUID string) error
}
