package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dicomnet/dicomnet/client"
	"github.com/dicomnet/dicomnet/dicom"
	"github.com/dicomnet/dicomnet/index"
	"github.com/dicomnet/dicomnet/interfaces"
	"github.com/dicomnet/dicomnet/metrics"
	"github.com/dicomnet/dicomnet/types"
)

// AETitleResolver resolves a called AE title to the network address a
// C-MOVE sub-operation should connect to. A deployment populates this
// from whatever AE-title table it keeps; MoveService treats an unknown
// title as StatusRefusedMoveDestUnknown (0xA801) rather than guessing.
type AETitleResolver interface {
	Resolve(aeTitle string) (address string, ok bool)
}

// StaticAETitleTable is the simplest AETitleResolver: a fixed map loaded
// once at startup, e.g. from the configuration table's move_destinations.
type StaticAETitleTable map[string]string

func (t StaticAETitleTable) Resolve(aeTitle string) (string, bool) {
	addr, ok := t[aeTitle]
	return addr, ok
}

// subOperationSender performs one outbound C-STORE sub-operation and
// reports whether the destination accepted it. Factored out of moveOne
// so tests can substitute a fake instead of opening a real association.
type subOperationSender func(address, destinationAE string, m index.InstanceMatch, data []byte) error

// MoveService implements C-MOVE: it resolves the query identifier to a
// set of SOP instances against the index, then issues one outbound
// C-STORE sub-operation per instance to the resolved destination AE,
// reporting sub-operation progress in pending responses the way
// spec.md's scenario 4 describes.
type MoveService struct {
	store        index.Store
	blobs        interfaces.BlobStore
	destinations AETitleResolver
	callingAE    string
	send         subOperationSender
	cat          *metrics.CategoryMetrics
}

// NewMoveService returns a MoveService. callingAE is the AE title this
// server presents when it opens the outbound association for each
// sub-operation.
func NewMoveService(store index.Store, blobs interfaces.BlobStore, destinations AETitleResolver, callingAE string, reg *metrics.Registry) *MoveService {
	var cat *metrics.CategoryMetrics
	if reg != nil {
		cat = reg.Category("cmove")
	}
	s := &MoveService{store: store, blobs: blobs, destinations: destinations, callingAE: callingAE, cat: cat}
	s.send = s.sendCStore
	return s
}

func (s *MoveService) record(success bool, start time.Time) {
	if s.cat != nil {
		s.cat.Record(success, uint64(time.Since(start).Nanoseconds()))
	}
}

func (s *MoveService) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	start := time.Now()
	ts := responseTransferSyntax(meta)

	address, ok := s.destinations.Resolve(msg.MoveDestination)
	if !ok {
		slog.WarnContext(ctx, "C-MOVE destination AE unknown", "destination", msg.MoveDestination)
		s.record(false, start)
		return responder.SendResponse(buildSubOpResponse(types.CMoveRSP, msg, types.StatusRefusedMoveDestUnknown, 0, 0, 0, 0), nil, ts)
	}

	ds := meta.Dataset
	if ds == nil {
		var err error
		ds, err = dicom.ParseDatasetWithTransferSyntax(data, meta.TransferSyntaxUID)
		if err != nil {
			slog.ErrorContext(ctx, "C-MOVE dataset parse failed", "error", err)
			s.record(false, start)
			return responder.SendResponse(buildSubOpResponse(types.CMoveRSP, msg, types.StatusFailure, 0, 0, 0, 0), nil, ts)
		}
	}

	matches, err := s.matchesFor(ctx, ds)
	if err != nil {
		slog.ErrorContext(ctx, "C-MOVE index lookup failed", "error", err)
		s.record(false, start)
		resp := buildSubOpResponse(types.CMoveRSP, msg, types.StatusOutOfResourcesUnableToCalculateMatches, 0, 0, 0, 0)
		resp.ErrorComment = err.Error()
		return responder.SendResponse(resp, nil, ts)
	}

	total := len(matches)
	if total == 0 {
		s.record(true, start)
		return responder.SendResponse(buildSubOpResponse(types.CMoveRSP, msg, types.StatusSuccess, 0, 0, 0, 0), nil, ts)
	}

	var completed, failed, warning uint16
	for i, m := range matches {
		remaining := uint16(total - i)
		pending := buildSubOpResponse(types.CMoveRSP, msg, types.StatusPending, remaining, completed, failed, warning)
		if err := responder.SendResponse(pending, nil, ts); err != nil {
			return err
		}

		if err := s.moveOne(address, msg.MoveDestination, m); err != nil {
			slog.ErrorContext(ctx, "C-MOVE sub-operation failed", "sop_instance_uid", m.Instance.SOPInstanceUID, "error", err)
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
	return responder.SendResponse(buildSubOpResponse(types.CMoveRSP, msg, uint16(final), 0, completed, failed, warning), nil, ts)
}

// HandleDIMSE is a non-streaming fallback; real C-MOVE traffic is routed
// through HandleDIMSEStreaming by the dispatcher.
func (s *MoveService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	return buildSubOpResponse(types.CMoveRSP, msg, types.StatusSuccess, 0, 0, 0, 0), nil, nil
}

func (s *MoveService) matchesFor(ctx context.Context, ds *dicom.Dataset) ([]index.InstanceMatch, error) {
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

func (s *MoveService) moveOne(address, destinationAE string, m index.InstanceMatch) error {
	data, err := s.blobs.Get(m.Instance.SOPInstanceUID)
	if err != nil {
		return fmt.Errorf("load instance: %w", err)
	}
	return s.send(address, destinationAE, m, data)
}

// sendCStore is the default subOperationSender: it opens a fresh
// outbound association to the resolved destination and issues one
// C-STORE, proposing the instance's native transfer syntax first.
func (s *MoveService) sendCStore(address, destinationAE string, m index.InstanceMatch, data []byte) error {
	assoc, err := client.Connect(address, client.Config{
		CallingAETitle:            s.callingAE,
		CalledAETitle:             destinationAE,
		MaxPDULength:              16384,
		PreferredTransferSyntaxes: transferSyntaxPreference(m.Instance.TransferSyntaxUID),
	})
	if err != nil {
		return fmt.Errorf("connect to move destination: %w", err)
	}
	defer assoc.Close()

	resp, err := assoc.SendCStore(&client.CStoreRequest{
		SOPClassUID:    m.Instance.SOPClassUID,
		SOPInstanceUID: m.Instance.SOPInstanceUID,
		Data:           data,
		MessageID:      1,
	})
	if err != nil {
		return fmt.Errorf("C-STORE sub-operation: %w", err)
	}
	if resp.Status != types.StatusSuccess {
		return fmt.Errorf("C-STORE sub-operation returned status 0x%04X", resp.Status)
	}
	return nil
}

// transferSyntaxPreference proposes the instance's own transfer syntax
// first, falling back to the common ones any SCP is required to accept.
func transferSyntaxPreference(native string) []string {
	syntaxes := []string{native}
	for _, ts := range []string{
		types.ExplicitVRLittleEndian,
		types.ImplicitVRLittleEndian,
		types.JPEG2000Lossless,
		types.JPEG2000,
	} {
		if ts != native {
			syntaxes = append(syntaxes, ts)
		}
	}
	return syntaxes
}

func buildSubOpResponse(commandField uint16, req *types.Message, status uint16, remaining, completed, failed, warning uint16) *types.Message {
	uint16Ptr := func(v uint16) *uint16 { return &v }
	return &types.Message{
		CommandField:                   commandField,
		MessageIDBeingRespondedTo:      req.MessageID,
		AffectedSOPClassUID:            req.AffectedSOPClassUID,
		CommandDataSetType:             0x0101,
		Status:                         status,
		NumberOfRemainingSuboperations: uint16Ptr(remaining),
		NumberOfCompletedSuboperations: uint16Ptr(completed),
		NumberOfFailedSuboperations:    uint16Ptr(failed),
		NumberOfWarningSuboperations:   uint16Ptr(warning),
	}
}
