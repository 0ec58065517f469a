package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/dicomnet/dicomnet/dicom"
	"github.com/dicomnet/dicomnet/index"
	"github.com/dicomnet/dicomnet/interfaces"
	"github.com/dicomnet/dicomnet/metrics"
	"github.com/dicomnet/dicomnet/types"
)

// StoreService implements C-STORE: it persists the instance's encoded
// bytes to a BlobStore and upserts the patient/study/series/instance
// chain into the index database, in that parent-first order, so a
// concurrent C-FIND never observes an instance row whose series/study/
// patient ancestors don't yet exist.
type StoreService struct {
	store index.Store
	blobs interfaces.BlobStore
	cat   *metrics.CategoryMetrics
}

// NewStoreService returns a StoreService. reg may be nil to skip
// category metrics.
func NewStoreService(store index.Store, blobs interfaces.BlobStore, reg *metrics.Registry) *StoreService {
	var cat *metrics.CategoryMetrics
	if reg != nil {
		cat = reg.Category("cstore")
	}
	return &StoreService{store: store, blobs: blobs, cat: cat}
}

func (s *StoreService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	start := time.Now()

	resp := &types.Message{
		CommandField:              types.CStoreRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    msg.AffectedSOPInstanceUID,
		CommandDataSetType:        0x0101,
		Status:                    types.StatusSuccess,
	}

	ds := meta.Dataset
	if ds == nil {
		var err error
		ds, err = dicom.ParseDatasetWithTransferSyntax(data, meta.TransferSyntaxUID)
		if err != nil {
			slog.ErrorContext(ctx, "C-STORE dataset parse failed", "error", err)
			s.record(false, start)
			resp.Status = types.StatusFailure
			resp.ErrorComment = err.Error()
			return resp, nil, nil
		}
	}

	if err := s.blobs.Put(msg.AffectedSOPInstanceUID, data); err != nil {
		slog.ErrorContext(ctx, "C-STORE blob write failed", "sop_instance_uid", msg.AffectedSOPInstanceUID, "error", err)
		s.record(false, start)
		resp.Status = types.StatusFailure
		resp.ErrorComment = err.Error()
		return resp, nil, nil
	}

	if err := s.indexInstance(ctx, msg, ds, meta, len(data)); err != nil {
		slog.ErrorContext(ctx, "C-STORE index update failed", "sop_instance_uid", msg.AffectedSOPInstanceUID, "error", err)
		s.record(false, start)
		resp.Status = types.StatusIndexFailure
		resp.ErrorComment = err.Error()
		return resp, nil, nil
	}

	s.record(true, start)
	slog.InfoContext(ctx, "C-STORE committed", "sop_instance_uid", msg.AffectedSOPInstanceUID)
	return resp, nil, nil
}

func (s *StoreService) record(success bool, start time.Time) {
	if s.cat != nil {
		s.cat.Record(success, uint64(time.Since(start).Nanoseconds()))
	}
}

func (s *StoreService) indexInstance(ctx context.Context, msg *types.Message, ds *dicom.Dataset, meta interfaces.MessageContext, size int) error {
	patientID := ds.GetString(tagPatientID)
	if err := s.store.UpsertPatient(ctx, index.Patient{
		PatientID: patientID,
		Name:      ds.GetString(tagPatientName),
		BirthDate: ds.GetString(tagPatientBirthDate),
		Sex:       ds.GetString(tagPatientSex),
	}); err != nil {
		return err
	}

	studyUID := ds.GetString(tagStudyInstanceUID)
	if err := s.store.UpsertStudy(ctx, index.Study{
		StudyUID:           studyUID,
		PatientID:          patientID,
		Accession:          ds.GetString(tagAccessionNumber),
		StudyDate:          ds.GetString(tagStudyDate),
		StudyTime:          ds.GetString(tagStudyTime),
		ReferringPhysician: ds.GetString(tagReferringPhysician),
		Description:        ds.GetString(tagStudyDescription),
	}); err != nil {
		return err
	}

	seriesUID := ds.GetString(tagSeriesInstanceUID)
	if err := s.store.UpsertSeries(ctx, index.Series{
		SeriesUID:   seriesUID,
		StudyUID:    studyUID,
		Modality:    ds.GetString(tagModality),
		Number:      ds.GetString(tagSeriesNumber),
		Description: ds.GetString(tagSeriesDescription),
	}); err != nil {
		return err
	}

	return s.store.UpsertInstance(ctx, index.Instance{
		SOPInstanceUID:    msg.AffectedSOPInstanceUID,
		SeriesUID:         seriesUID,
		SOPClassUID:       msg.AffectedSOPClassUID,
		Size:              int64(size),
		TransferSyntaxUID: meta.TransferSyntaxUID,
		InstanceNumber:    ds.GetString(tagInstanceNumber),
	})
}
