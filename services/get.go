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

// GetService implements C-GET: like MoveService it resolves the query
// identifier against the index, but its sub-operations are C-STORE
// calls issued over the same association the C-GET-RQ arrived on,
// via interfaces.CGetResponder, rather than a new outbound association.
type GetService struct {
	store index.Store
	blobs interfaces.BlobStore
	cat   *metrics.CategoryMetrics
}

// NewGetService returns a GetService. reg may be nil to skip category
// metrics.
func NewGetService(store index.Store, blobs interfaces.BlobStore, reg *metrics.Registry) *GetService {
	var cat *metrics.CategoryMetrics
	if reg != nil {
		cat = reg.Category("cget")
	}
	return &GetService{store: store, blobs: blobs, cat: cat}
}

func (s *GetService) record(success bool, start time.Time) {
	if s.cat != nil {
		s.cat.Record(success, uint64(time.Since(start).Nanoseconds()))
	}
}

func (s *GetService) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	start := time.Now()
	ts := responseTransferSyntax(meta)

	cgetResponder, ok := responder.(interfaces.CGetResponder)
	if !ok {
		slog.ErrorContext(ctx, "C-GET responder does not support sub-operations")
		s.record(false, start)
		return responder.SendResponse(buildSubOpResponse(types.CGetRSP, msg, types.StatusFailure, 0, 0, 0, 0), nil, ts)
	}

	ds := meta.Dataset
	if ds == nil {
		var err error
		ds, err = dicom.ParseDatasetWithTransferSyntax(data, meta.TransferSyntaxUID)
		if err != nil {
			slog.ErrorContext(ctx, "C-GET dataset parse failed", "error", err)
			s.record(false, start)
			return responder.SendResponse(buildSubOpResponse(types.CGetRSP, msg, types.StatusFailure, 0, 0, 0, 0), nil, ts)
		}
	}

	matches, err := s.matchesFor(ctx, ds)
	if err != nil {
		slog.ErrorContext(ctx, "C-GET index lookup failed", "error", err)
		s.record(false, start)
		resp := buildSubOpResponse(types.CGetRSP, msg, types.StatusOutOfResourcesUnableToCalculateMatches, 0, 0, 0, 0)
		resp.ErrorComment = err.Error()
		return responder.SendResponse(resp, nil, ts)
	}

	total := len(matches)
	if total == 0 {
		s.record(true, start)
		return responder.SendResponse(buildSubOpResponse(types.CGetRSP, msg, types.StatusSuccess, 0, 0, 0, 0), nil, ts)
	}

	var completed, failed, warning uint16
	for i, m := range matches {
		remaining := uint16(total - i)
		pending := buildSubOpResponse(types.CGetRSP, msg, types.StatusPending, remaining, completed, failed, warning)
		if err := responder.SendResponse(pending, nil, ts); err != nil {
			return err
		}

		if err := s.getOne(cgetResponder, m); err != nil {
			slog.ErrorContext(ctx, "C-GET sub-operation failed", "sop_instance_uid", m.Instance.SOPInstanceUID, "error", err)
			failed++
		} else {
			completed++
		}
	}

	final := types.StatusSuccess
	if failed > 0 && completed > 0 {
		final = types.StatusSubOpsOneOrMoreFailures
	} else if failed > 0 && completed == 0 {
		final = types.StatusOutOfResourcesUnableToPerformSubOps
	}

	s.record(failed == 0, start)
	return responder.SendResponse(buildSubOpResponse(types.CGetRSP, msg, uint16(final), 0, completed, failed, warning), nil, ts)
}

// HandleDIMSE is a non-streaming fallback; real C-GET traffic is routed
// through HandleDIMSEStreaming by the dispatcher.
func (s *GetService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	return buildSubOpResponse(types.CGetRSP, msg, types.StatusSuccess, 0, 0, 0, 0), nil, nil
}

func (s *GetService) matchesFor(ctx context.Context, ds *dicom.Dataset) ([]index.InstanceMatch, error) {
	query := buildQueryRequest(ds)
	cur, err := s.store.FindInstances(ctx, query)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var matches []index.InstanceMatch
	for cur.Next(ctx) {
		matches = append(matches, cur.Value())
	}
	return matches, cur.Err()
}

func (s *GetService) getOne(responder interfaces.CGetResponder, m index.InstanceMatch) error {
	data, err := s.blobs.Get(m.Instance.SOPInstanceUID)
	if err != nil {
		return err
	}
	return responder.SendCStore(m.Instance.SOPClassUID, m.Instance.SOPInstanceUID, data)
}
