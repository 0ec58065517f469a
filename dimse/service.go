package dimse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dicomnet/dicomnet/dicom"
	"github.com/dicomnet/dicomnet/interfaces"
	"github.com/dicomnet/dicomnet/pipeline"
	"github.com/dicomnet/dicomnet/types"
)

// Command types
const (
	CStoreRQ  = 0x0001
	CStoreRSP = 0x8001
	CGetRQ    = 0x0010
	CGetRSP   = 0x8010
	CFindRQ   = 0x0020
	CFindRSP  = 0x8020
	CMoveRQ   = 0x0021
	CMoveRSP  = 0x8021
	CEchoRQ   = 0x0030
	CEchoRSP  = 0x8030
	CCancelRQ = 0x0FFF
)

// Status codes
const (
	StatusSuccess = 0x0000
	StatusPending = 0xFF00
	StatusFailure = 0xC000
)

// PDULayer interface for sending responses
type PDULayer interface {
	SendDIMSEResponse(presContextID byte, commandData []byte) error
	SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, datasetData []byte) error
	GetTransferSyntax(presContextID byte) (string, error)
}

// Service manages DIMSE operations and message routing
type Service struct {
	handler     interfaces.ServiceHandler
	commandData []byte
	datasetData []byte
	currentMsg  *types.Message
	logger      *slog.Logger
	transferUID string
	contextID   byte

	// coordinator, when attached via AttachPipeline, routes message
	// handling and response sending through the six-stage pipeline
	// instead of running inline on the connection's own goroutine.
	coordinator *pipeline.Coordinator
	sessionID   string

	// requestMessageID and responseSeq give every response to the same
	// request a shared ordering lane (sessionID:requestMessageID) and an
	// ascending sequence number, so multi-response operations (C-MOVE,
	// C-GET) keep their wire order even though ResponseEncode/NetworkSend
	// run on shared worker pools.
	requestMessageID uint16
	responseSeq      uint64
}

// AttachPipeline routes this service's message handling and response
// sending through coordinator's six stages instead of running them
// inline. sessionID identifies the owning association for per-session
// cancellation and per-(session, message id) response ordering.
// RegisterPipelineHandlers must already have been called on coordinator.
func (d *Service) AttachPipeline(coordinator *pipeline.Coordinator, sessionID string) {
	d.coordinator = coordinator
	d.sessionID = sessionID
}

// responseHandler implements ResponseSender for streaming responses
type responseHandler struct {
	service               *Service
	presContextID         byte
	pduLayer              PDULayer
	defaultTransferSyntax string
	ctx                   context.Context
}

// SendResponse implements ResponseSender interface
func (r *responseHandler) SendResponse(msg *types.Message, dataset *dicom.Dataset, transferSyntaxUID string) error {
	tsUID := transferSyntaxUID
	if tsUID == "" {
		tsUID = r.defaultTransferSyntax
	}

	var datasetBytes []byte
	var err error
	if dataset != nil {
		datasetBytes, err = dicom.EncodeDatasetWithTransferSyntax(dataset, tsUID)
		if err != nil {
			return fmt.Errorf("failed to encode dataset with transfer syntax %s: %w", tsUID, err)
		}
	}

	// Propagate transfer syntax to message for downstream consumers
	msg.TransferSyntaxUID = tsUID

	return r.service.sendDIMSEResponse(r.ctx, msg, datasetBytes, r.presContextID, r.pduLayer)
}

// cGetResponder implements CGetResponder for C-GET operations
type cGetResponder struct {
	responseHandler
	messageIDCounter uint16
}

// SendCStore implements CGetResponder interface - sends C-STORE sub-operation on same association
func (c *cGetResponder) SendCStore(sopClassUID, sopInstanceUID string, data []byte) error {
	c.messageIDCounter++

	// Build C-STORE-RQ command
	command := &types.Message{
		CommandField:           CStoreRQ,
		MessageID:              c.messageIDCounter,
		Priority:               0x0002, // Medium priority
		AffectedSOPClassUID:    sopClassUID,
		AffectedSOPInstanceUID: sopInstanceUID,
		CommandDataSetType:     0x0000, // Dataset present
	}

	// Note: In a full implementation, we should wait for C-STORE-RSP
	// For now, we'll assume success
	return c.service.sendDIMSEResponse(c.ctx, command, data, c.presContextID, c.pduLayer)
}

// NewService creates a new DIMSE service with a handler
func NewService(handler interfaces.ServiceHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		handler: handler,
		logger:  logger,
	}
}

// HandleDIMSEMessage processes DIMSE messages and routes to appropriate service
func (d *Service) HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, pduLayer PDULayer) error {
	// Create context for this message handling
	ctx := context.Background()

	d.logger.Debug("Processing DIMSE message",
		"context_id", presContextID,
		"control_header", fmt.Sprintf("0x%02x", msgCtrlHeader))
	tsUID, err := pduLayer.GetTransferSyntax(presContextID)
	if err != nil {
		d.logger.Warn("Failed to retrieve transfer syntax for presentation context",
			"context_id", presContextID,
			"error", err)
	}
	if tsUID != "" {
		d.transferUID = tsUID
	}
	d.contextID = presContextID

	// Check message control header
	// 0x01 = command, more fragments
	// 0x02 = dataset, last fragment
	// 0x03 = command, last fragment
	// 0x00 = dataset, more fragments

	isCommand := (msgCtrlHeader & 0x01) != 0
	isLastFragment := (msgCtrlHeader & 0x02) != 0

	if isCommand {
		// This is command data
		d.logger.Debug("Received command data", "size_bytes", len(data))
		if isLastFragment {
			// Complete command in one fragment
			d.commandData = data
			msg, err := parseDIMSECommand(data)
			if err != nil {
				return fmt.Errorf("failed to parse DIMSE command: %v", err)
			}
			d.currentMsg = msg

			// If CommandDataSetType indicates no dataset, process immediately
			if msg.CommandDataSetType == 0x0101 {
				return d.processCompleteMessage(ctx, presContextID, pduLayer)
			}
		} else {
			// Multi-fragment command (accumulate)
			d.commandData = append(d.commandData, data...)
		}
	} else {
		// This is dataset data
		d.logger.Debug("Received dataset data", "size_bytes", len(data))
		if isLastFragment {
			// Complete dataset received
			d.datasetData = append(d.datasetData, data...)
			return d.processCompleteMessage(ctx, presContextID, pduLayer)
		} else {
			// Multi-fragment dataset (accumulate)
			d.datasetData = append(d.datasetData, data...)
		}
	}

	return nil
}

// processCompleteMessage processes a complete DIMSE message (command + optional dataset)
func (d *Service) processCompleteMessage(ctx context.Context, presContextID byte, pduLayer PDULayer) error {
	if d.currentMsg == nil {
		return fmt.Errorf("no current message to process")
	}

	d.logger.InfoContext(ctx, "Processing complete DIMSE message",
		"command_field", fmt.Sprintf("0x%04x", d.currentMsg.CommandField),
		"message_id", d.currentMsg.MessageID,
		"dataset_size", len(d.datasetData))

	tsUID := d.transferUID
	if tsUID == "" {
		if negotiatedTS, err := pduLayer.GetTransferSyntax(presContextID); err == nil {
			tsUID = negotiatedTS
		} else {
			d.logger.WarnContext(ctx, "Unable to determine transfer syntax for presentation context",
				"context_id", presContextID,
				"error", err)
		}
	}

	msg := d.currentMsg
	rawDataset := d.datasetData
	msg.TransferSyntaxUID = tsUID
	d.requestMessageID = msg.MessageID
	d.responseSeq = 0

	defer d.resetState()

	if d.coordinator == nil {
		dataset := parseDatasetIfPresent(ctx, d.logger, rawDataset, tsUID)
		return d.runHandler(ctx, presContextID, pduLayer, msg, rawDataset, dataset, tsUID)
	}

	return d.submitThroughPipeline(ctx, presContextID, pduLayer, msg, rawDataset, tsUID)
}

// runHandler dispatches msg to the streaming or simple service handler and
// sends its response(s). It is the single codepath both the inline
// (no coordinator attached) and Execute-stage (pipeline attached) routes
// converge on, so a service handler behaves identically either way.
func (d *Service) runHandler(ctx context.Context, presContextID byte, pduLayer PDULayer, msg *types.Message, rawDataset []byte, dataset *dicom.Dataset, tsUID string) error {
	meta := interfaces.MessageContext{
		PresentationContextID: presContextID,
		TransferSyntaxUID:     tsUID,
		Dataset:               dataset,
	}

	if streamingHandler, ok := d.handler.(interfaces.StreamingServiceHandler); ok {
		d.logger.DebugContext(ctx, "Using streaming handler for multi-response operation")

		responder := d.buildResponder(ctx, presContextID, pduLayer, tsUID, msg)
		return streamingHandler.HandleDIMSEStreaming(ctx, msg, rawDataset, meta, responder)
	}

	responseMsg, responseDataset, err := d.handler.HandleDIMSE(ctx, msg, rawDataset, meta)
	if err != nil {
		return fmt.Errorf("service handler failed: %w", err)
	}

	responseTS := responseMsg.TransferSyntaxUID
	if responseTS == "" {
		responseTS = tsUID
	}

	var encodedDataset []byte
	if responseDataset != nil {
		var encodeErr error
		encodedDataset, encodeErr = dicom.EncodeDatasetWithTransferSyntax(responseDataset, responseTS)
		if encodeErr != nil {
			return fmt.Errorf("failed to encode response dataset using transfer syntax %s: %w", responseTS, encodeErr)
		}
	}

	responseMsg.TransferSyntaxUID = responseTS
	return d.sendDIMSEResponse(ctx, responseMsg, encodedDataset, presContextID, pduLayer)
}

func (d *Service) buildResponder(ctx context.Context, presContextID byte, pduLayer PDULayer, defaultTS string, msg *types.Message) interfaces.ResponseSender {
	base := responseHandler{
		service:               d,
		presContextID:         presContextID,
		pduLayer:              pduLayer,
		defaultTransferSyntax: defaultTS,
		ctx:                   ctx,
	}

	if msg != nil && msg.CommandField == CGetRQ {
		return &cGetResponder{responseHandler: base}
	}

	return &base
}

func (d *Service) resetState() {
	d.commandData = nil
	d.datasetData = nil
	d.currentMsg = nil
	d.transferUID = ""
	d.contextID = 0
}

// sendDIMSEResponse sends a DIMSE response, encoding the full command set
// (including Error Comment/Error ID/Priority/Requested SOP Class and Instance
// UID/Attribute Identifier List when the caller set them) via the same
// encoder parseDIMSECommand is the inverse of. When a pipeline is attached
// it routes the send through ResponseEncode/NetworkSend instead of writing
// directly, so multi-response operations keep their wire order.
func (d *Service) sendDIMSEResponse(ctx context.Context, msg *types.Message, data []byte, presContextID byte, pduLayer PDULayer) error {
	if d.coordinator != nil {
		return d.sendDIMSEResponseViaPipeline(ctx, msg, data, presContextID, pduLayer)
	}
	commandData := createDIMSECommand(msg)
	return pduLayer.SendDIMSEResponseWithDataset(presContextID, commandData, data)
}
