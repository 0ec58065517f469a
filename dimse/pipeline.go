package dimse

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dicomnet/dicomnet/dicom"
	"github.com/dicomnet/dicomnet/metrics"
	"github.com/dicomnet/dicomnet/pipeline"
	"github.com/dicomnet/dicomnet/types"
)

// messageJob carries one assembled DIMSE message (command plus optional
// raw dataset bytes) through NetworkReceive, PduDecode, DimseProcess, and
// Execute. done receives the final handling error once Execute
// finishes, so the connection's read loop can block on it exactly the way
// it blocked on a direct handler call before the coordinator existed.
type messageJob struct {
	service       *Service
	presContextID byte
	pduLayer      PDULayer
	msg           *types.Message
	rawDataset    []byte
	dataset       *dicom.Dataset
	tsUID         string
	done          chan error
}

// responseJob carries one response message through ResponseEncode.
type responseJob struct {
	presContextID byte
	pduLayer      PDULayer
	msg           *types.Message
	dataset       []byte
	done          chan error
}

// sendJob carries one already-encoded response through NetworkSend.
type sendJob struct {
	presContextID byte
	pduLayer      PDULayer
	commandData   []byte
	datasetData   []byte
	done          chan error
}

// RegisterPipelineHandlers wires the six-stage handlers a dimse.Service
// needs onto coordinator. It must be called once per coordinator, before
// Start, regardless of how many Service instances (one per connection)
// end up calling AttachPipeline against it.
func RegisterPipelineHandlers(coordinator *pipeline.Coordinator) {
	coordinator.RegisterHandler(metrics.StageNetworkReceive, handleNetworkReceive)
	coordinator.RegisterHandler(metrics.StagePduDecode, handlePduDecode)
	coordinator.RegisterHandler(metrics.StageDimseProcess, handleDimseProcess)
	coordinator.RegisterHandler(metrics.StageExecute, handleExecute)
	coordinator.RegisterHandler(metrics.StageResponseEncode, handleResponseEncode)
	coordinator.RegisterHandler(metrics.StageNetworkSend, handleNetworkSend)
}

func handleNetworkReceive(ctx context.Context, job pipeline.Job) ([]pipeline.Job, error) {
	// Bytes are already off the wire by the time a messageJob exists; this
	// stage exists so receipt is counted and throttled like the other five
	// before any decoding work begins.
	return []pipeline.Job{job}, nil
}

func handlePduDecode(ctx context.Context, job pipeline.Job) ([]pipeline.Job, error) {
	mj, ok := job.Payload.(*messageJob)
	if !ok {
		return nil, fmt.Errorf("dimse: PduDecode got unexpected payload %T", job.Payload)
	}
	mj.dataset = parseDatasetIfPresent(ctx, mj.service.logger, mj.rawDataset, mj.tsUID)
	return []pipeline.Job{job}, nil
}

func handleDimseProcess(ctx context.Context, job pipeline.Job) ([]pipeline.Job, error) {
	// Dispatch decisions (streaming vs. simple handler) are made inside
	// Execute, where the handler is actually invoked; DimseProcess only
	// forwards the now-decoded message onward.
	return []pipeline.Job{job}, nil
}

func handleExecute(ctx context.Context, job pipeline.Job) ([]pipeline.Job, error) {
	mj, ok := job.Payload.(*messageJob)
	if !ok {
		return nil, fmt.Errorf("dimse: Execute got unexpected payload %T", job.Payload)
	}
	err := mj.service.runHandler(ctx, mj.presContextID, mj.pduLayer, mj.msg, mj.rawDataset, mj.dataset, mj.tsUID)
	mj.done <- err
	return nil, err
}

func handleResponseEncode(ctx context.Context, job pipeline.Job) ([]pipeline.Job, error) {
	rj, ok := job.Payload.(*responseJob)
	if !ok {
		return nil, fmt.Errorf("dimse: ResponseEncode got unexpected payload %T", job.Payload)
	}
	commandData := createDIMSECommand(rj.msg)
	successor := job
	successor.Payload = &sendJob{
		presContextID: rj.presContextID,
		pduLayer:      rj.pduLayer,
		commandData:   commandData,
		datasetData:   rj.dataset,
		done:          rj.done,
	}
	return []pipeline.Job{successor}, nil
}

func handleNetworkSend(ctx context.Context, job pipeline.Job) ([]pipeline.Job, error) {
	sj, ok := job.Payload.(*sendJob)
	if !ok {
		return nil, fmt.Errorf("dimse: NetworkSend got unexpected payload %T", job.Payload)
	}
	err := sj.pduLayer.SendDIMSEResponseWithDataset(sj.presContextID, sj.commandData, sj.datasetData)
	sj.done <- err
	return nil, err
}

// categoryFor maps a DIMSE command field to the pipeline/metrics category
// it belongs to, for per-category latency tracking and Execute dispatch.
func categoryFor(commandField uint16) pipeline.Category {
	switch commandField {
	case CEchoRQ, CEchoRSP:
		return pipeline.CategoryEcho
	case CStoreRQ, CStoreRSP:
		return pipeline.CategoryStore
	case CFindRQ, CFindRSP:
		return pipeline.CategoryFind
	case CGetRQ, CGetRSP:
		return pipeline.CategoryGet
	case CMoveRQ, CMoveRSP:
		return pipeline.CategoryMove
	case types.NCreateRQ, types.NCreateRSP, types.NSetRQ, types.NSetRSP,
		types.NActionRQ, types.NActionRSP, types.NEventReportRQ, types.NEventReportRSP,
		types.NDeleteRQ, types.NDeleteRSP, types.NGetRQ, types.NGetRSP:
		return pipeline.CategoryNAction
	default:
		return pipeline.CategoryOther
	}
}

// parseDatasetIfPresent decodes rawDataset using tsUID, logging and
// returning nil rather than failing the message on a decode error (the
// service still reports the DIMSE-level failure status to the peer).
func parseDatasetIfPresent(ctx context.Context, logger *slog.Logger, rawDataset []byte, tsUID string) *dicom.Dataset {
	if len(rawDataset) == 0 {
		return nil
	}
	parsed, err := dicom.ParseDatasetWithTransferSyntax(rawDataset, tsUID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to parse dataset with negotiated transfer syntax",
			"transfer_syntax", tsUID, "error", err)
		return nil
	}
	logger.DebugContext(ctx, "Parsed dataset using transfer syntax", "transfer_syntax", tsUID)
	return parsed
}

// submitThroughPipeline routes one assembled message through the
// coordinator's six stages and blocks until Execute (and every response it
// sent) has finished, preserving the same call-returns-when-done contract
// the direct handler call used to have.
func (d *Service) submitThroughPipeline(ctx context.Context, presContextID byte, pduLayer PDULayer, msg *types.Message, rawDataset []byte, tsUID string) error {
	done := make(chan error, 1)
	mj := &messageJob{
		service:       d,
		presContextID: presContextID,
		pduLayer:      pduLayer,
		msg:           msg,
		rawDataset:    rawDataset,
		tsUID:         tsUID,
		done:          done,
	}
	job := d.coordinator.NewJob(d.sessionID, msg.MessageID, metrics.StageNetworkReceive, categoryFor(msg.CommandField), mj)
	if err := d.coordinator.SubmitToStage(ctx, metrics.StageNetworkReceive, job); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendDIMSEResponseViaPipeline routes one response through ResponseEncode
// and NetworkSend, ordered against every other response to the same
// request via OrderKey/Seq, and blocks until the bytes are written (or the
// submission fails under backpressure).
func (d *Service) sendDIMSEResponseViaPipeline(ctx context.Context, msg *types.Message, data []byte, presContextID byte, pduLayer PDULayer) error {
	seq := d.responseSeq
	d.responseSeq++
	orderKey := d.sessionID + ":" + strconv.FormatUint(uint64(d.requestMessageID), 10)

	done := make(chan error, 1)
	rj := &responseJob{
		presContextID: presContextID,
		pduLayer:      pduLayer,
		msg:           msg,
		dataset:       data,
		done:          done,
	}
	job := d.coordinator.NewJob(d.sessionID, d.requestMessageID, metrics.StageResponseEncode, categoryFor(msg.CommandField), rj)
	job.OrderKey = orderKey
	job.Seq = seq
	if err := d.coordinator.SubmitToStage(ctx, metrics.StageResponseEncode, job); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
