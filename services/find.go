package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/dicomnet/dicomnet/dicom"
	"github.com/dicomnet/dicomnet/index"
	"github.com/dicomnet/dicomnet/interfaces"
	"github.com/dicomnet/dicomnet/metrics"
	"github.com/dicomnet/dicomnet/querycache"
	"github.com/dicomnet/dicomnet/types"
)

var (
	tagQueryRetrieveLevel = dicom.Tag{Group: 0x0008, Element: 0x0052}
	tagPatientName        = dicom.Tag{Group: 0x0010, Element: 0x0010}
	tagPatientID          = dicom.Tag{Group: 0x0010, Element: 0x0020}
	tagPatientBirthDate   = dicom.Tag{Group: 0x0010, Element: 0x0030}
	tagPatientSex         = dicom.Tag{Group: 0x0010, Element: 0x0040}
	tagStudyID            = dicom.Tag{Group: 0x0020, Element: 0x0010}
	tagStudyDate          = dicom.Tag{Group: 0x0008, Element: 0x0020}
	tagStudyTime          = dicom.Tag{Group: 0x0008, Element: 0x0030}
	tagStudyDescription   = dicom.Tag{Group: 0x0008, Element: 0x1030}
	tagSeriesInstanceUID  = dicom.Tag{Group: 0x0020, Element: 0x000E}
	tagSeriesNumber       = dicom.Tag{Group: 0x0020, Element: 0x0011}
	tagSeriesDescription  = dicom.Tag{Group: 0x0008, Element: 0x103E}
	tagSOPInstanceUID     = dicom.Tag{Group: 0x0008, Element: 0x0018}
	tagInstanceNumber     = dicom.Tag{Group: 0x0020, Element: 0x0013}
	tagReferringPhysician = dicom.Tag{Group: 0x0008, Element: 0x0090}
)

// FindService implements C-FIND against the index database, caching
// the full result sequence under the canonical query key so an
// identical repeated query is answered without touching the index.
type FindService struct {
	store   index.Store
	cache   *querycache.Cache
	metrics *metrics.CategoryMetrics
}

// NewFindService returns a FindService. cache and reg may be nil, in
// which case queries always miss the cache and no category metrics are
// recorded.
func NewFindService(store index.Store, cache *querycache.Cache, reg *metrics.Registry) *FindService {
	var cat *metrics.CategoryMetrics
	if reg != nil {
		cat = reg.Category("cfind")
	}
	return &FindService{store: store, cache: cache, metrics: cat}
}

func (s *FindService) record(success bool, start time.Time) {
	if s.metrics != nil {
		s.metrics.Record(success, uint64(time.Since(start).Nanoseconds()))
	}
}

func (s *FindService) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	start := time.Now()
	ds := meta.Dataset
	if ds == nil {
		ds = dicom.NewDataset()
	}

	query := buildQueryRequest(ds)
	key := cacheKey(query)

	if cached, ok := s.cacheGet(key); ok {
		s.record(true, start)
		return s.sendResults(msg, meta, responder, cached)
	}

	cur, err := s.store.FindInstances(ctx, query)
	if err != nil {
		slog.ErrorContext(ctx, "C-FIND index lookup failed", "error", err)
		s.record(false, start)
		resp := CreateErrorResponse(msg, types.StatusIndexFailure)
		resp.ErrorComment = err.Error()
		return responder.SendResponse(resp, nil, responseTransferSyntax(meta))
	}
	defer cur.Close()

	var matches []index.InstanceMatch
	for cur.Next(ctx) {
		matches = append(matches, cur.Value())
	}
	if err := cur.Err(); err != nil {
		slog.ErrorContext(ctx, "C-FIND cursor error", "error", err)
		s.record(false, start)
		resp := CreateErrorResponse(msg, types.StatusIndexFailure)
		resp.ErrorComment = err.Error()
		return responder.SendResponse(resp, nil, responseTransferSyntax(meta))
	}

	if s.cache != nil {
		s.cache.Put(key, matches)
	}

	s.record(true, start)
	return s.sendResults(msg, meta, responder, matches)
}

func (s *FindService) cacheGet(key string) ([]index.InstanceMatch, bool) {
	if s.cache == nil {
		return nil, false
	}
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	matches, ok := v.([]index.InstanceMatch)
	return matches, ok
}

func (s *FindService) sendResults(msg *types.Message, meta interfaces.MessageContext, responder interfaces.ResponseSender, matches []index.InstanceMatch) error {
	ts := responseTransferSyntax(meta)
	for _, m := range matches {
		resp := &types.Message{
			CommandField:              types.CFindRSP,
			MessageIDBeingRespondedTo: msg.MessageID,
			AffectedSOPClassUID:       msg.AffectedSOPClassUID,
			CommandDataSetType:        0x0000,
			Status:                    types.StatusPending,
		}
		if err := responder.SendResponse(resp, matchToDataset(m), ts); err != nil {
			return err
		}
	}

	final := &types.Message{
		CommandField:              types.CFindRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		CommandDataSetType:        0x0101,
		Status:                    types.StatusSuccess,
	}
	return responder.SendResponse(final, nil, ts)
}

// HandleDIMSE is a non-streaming fallback for callers that invoke the
// registry without streaming support; real C-FIND traffic is routed
// through HandleDIMSEStreaming by the dispatcher.
func (s *FindService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	resp := &types.Message{
		CommandField:              types.CFindRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		CommandDataSetType:        0x0101,
		Status:                    types.StatusSuccess,
	}
	return resp, nil, nil
}

func buildQueryRequest(ds *dicom.Dataset) types.QueryRequest {
	return types.QueryRequest{
		Level:              types.QueryLevel(ds.GetString(tagQueryRetrieveLevel)),
		PatientName:        ds.GetString(tagPatientName),
		PatientID:          ds.GetString(tagPatientID),
		PatientBirthDate:   ds.GetString(tagPatientBirthDate),
		PatientSex:         ds.GetString(tagPatientSex),
		StudyInstanceUID:   ds.GetString(tagStudyInstanceUID),
		StudyID:            ds.GetString(tagStudyID),
		StudyDate:          ds.GetString(tagStudyDate),
		StudyTime:          ds.GetString(tagStudyTime),
		StudyDescription:   ds.GetString(tagStudyDescription),
		Modality:           ds.GetString(tagModality),
		SeriesInstanceUID:  ds.GetString(tagSeriesInstanceUID),
		SeriesNumber:       ds.GetString(tagSeriesNumber),
		SeriesDescription:  ds.GetString(tagSeriesDescription),
		SOPInstanceUID:     ds.GetString(tagSOPInstanceUID),
		InstanceNumber:     ds.GetString(tagInstanceNumber),
		AccessionNumber:    ds.GetString(tagAccessionNumber),
		ReferringPhysician: ds.GetString(tagReferringPhysician),
	}
}

func cacheKey(q types.QueryRequest) string {
	params := map[string]string{
		"patient_name":        q.PatientName,
		"patient_id":          q.PatientID,
		"patient_birth_date":  q.PatientBirthDate,
		"patient_sex":         q.PatientSex,
		"study_instance_uid":  q.StudyInstanceUID,
		"study_id":            q.StudyID,
		"study_date":          q.StudyDate,
		"study_time":          q.StudyTime,
		"study_description":   q.StudyDescription,
		"modality":            q.Modality,
		"series_instance_uid": q.SeriesInstanceUID,
		"series_number":       q.SeriesNumber,
		"series_description":  q.SeriesDescription,
		"sop_instance_uid":    q.SOPInstanceUID,
		"instance_number":     q.InstanceNumber,
		"accession_number":    q.AccessionNumber,
		"referring_physician": q.ReferringPhysician,
	}
	for k, v := range params {
		if v == "" {
			delete(params, k)
		}
	}
	return querycache.Key(string(q.Level), "", params)
}

// matchToDataset builds the response dataset for one find_instances row,
// carrying the row's patient, study, series and instance attributes
// whatever the query's level; attributes of levels below the query's
// level are not omitted.
func matchToDataset(m index.InstanceMatch) *dicom.Dataset {
	ds := dicom.NewDataset()
	ds.AddElement(tagPatientName, dicom.VR_PN, m.Patient.Name)
	ds.AddElement(tagPatientID, dicom.VR_LO, m.Patient.PatientID)
	ds.AddElement(tagStudyInstanceUID, dicom.VR_UI, m.Study.StudyUID)
	ds.AddElement(tagStudyDate, dicom.VR_DA, m.Study.StudyDate)
	ds.AddElement(tagStudyTime, dicom.VR_TM, m.Study.StudyTime)
	ds.AddElement(tagAccessionNumber, dicom.VR_SH, m.Study.Accession)
	ds.AddElement(tagStudyDescription, dicom.VR_LO, m.Study.Description)
	ds.AddElement(tagSeriesInstanceUID, dicom.VR_UI, m.Series.SeriesUID)
	ds.AddElement(tagModality, dicom.VR_CS, m.Series.Modality)
	ds.AddElement(tagSeriesNumber, dicom.VR_IS, m.Series.Number)
	ds.AddElement(tagSOPInstanceUID, dicom.VR_UI, m.Instance.SOPInstanceUID)
	ds.AddElement(tagInstanceNumber, dicom.VR_IS, m.Instance.InstanceNumber)
	return ds
}
