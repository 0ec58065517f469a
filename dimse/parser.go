package dimse

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dicomnet/dicomnet/types"
)

// parseDIMSECommand parses a DIMSE command from raw bytes
func parseDIMSECommand(data []byte) (*types.Message, error) {
	msg := &types.Message{}

	// This is a simplified parser - in practice you'd need a full DICOM parser
	// For now, we'll extract key fields assuming implicit VR little endian

	if len(data) < 12 {
		return nil, fmt.Errorf("DIMSE data too short: %d bytes", len(data))
	}

	slog.Debug("Parsing DIMSE command data", "size_bytes", len(data))

	// Parse DICOM elements with proper variable-length handling
	offset := 0
	for offset < len(data)-8 {
		if offset+8 > len(data) {
			slog.Debug("Not enough data for header", "offset", offset)
			break
		}

		// Read tag (group, element)
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])

		// Sanity check length
		if length > 1000000 { // 1MB limit
			slog.Warn("Element length too large, probably parsing error", "length", length)
			break
		}

		// Ensure we have enough data for the value
		if offset+8+int(length) > len(data) {
			slog.Debug("Not enough data for element value",
				"have_bytes", len(data),
				"need_bytes", offset+8+int(length))
			break
		}

		// Only process command group elements (group 0000)
		if group == 0x0000 {
			valueStart := offset + 8
			valueEnd := valueStart + int(length)

			switch element {
			case 0x0100: // Command Field
				if length == 2 {
					msg.CommandField = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				} else {
					slog.Warn("Command Field has wrong length", "length", length)
				}
			case 0x0110: // Message ID
				if length == 2 {
					msg.MessageID = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				} else {
					slog.Warn("Message ID has wrong length", "length", length)
				}
			case 0x0800: // Command Data Set Type
				if length == 2 {
					msg.CommandDataSetType = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				} else {
					slog.Warn("Command Data Set Type has wrong length", "length", length)
				}
			case 0x0002: // Affected SOP Class UID
				if length > 0 {
					sopClassUID := string(data[valueStart:valueEnd])
					// Remove null padding
					if idx := strings.IndexByte(sopClassUID, 0); idx != -1 {
						sopClassUID = sopClassUID[:idx]
					}
					msg.AffectedSOPClassUID = strings.TrimSpace(sopClassUID)
				}
			case 0x0003: // Requested SOP Class UID
				if length > 0 {
					msg.RequestedSOPClassUID = trimUIDPadding(string(data[valueStart:valueEnd]))
				}
			case 0x0600: // Move Destination (for C-MOVE-RQ)
				if length > 0 {
					moveDestination := string(data[valueStart:valueEnd])
					// Remove null padding
					if idx := strings.IndexByte(moveDestination, 0); idx != -1 {
						moveDestination = moveDestination[:idx]
					}
					msg.MoveDestination = strings.TrimSpace(moveDestination)
				}
			case 0x0700: // Priority
				if length == 2 {
					msg.Priority = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				}
			case 0x0900: // Status
				if length == 2 {
					msg.Status = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				}
			case 0x1000: // Affected SOP Instance UID
				if length > 0 {
					msg.AffectedSOPInstanceUID = trimUIDPadding(string(data[valueStart:valueEnd]))
				}
			case 0x1001: // Requested SOP Instance UID
				if length > 0 {
					msg.RequestedSOPInstanceUID = trimUIDPadding(string(data[valueStart:valueEnd]))
				}
			case 0x1002: // Event Type ID (N-EVENT-REPORT)
				if length == 2 {
					v := binary.LittleEndian.Uint16(data[valueStart:valueEnd])
					msg.EventTypeID = &v
				}
			case 0x1008: // Action Type ID (N-ACTION)
				if length == 2 {
					v := binary.LittleEndian.Uint16(data[valueStart:valueEnd])
					msg.ActionTypeID = &v
				}
			case 0x0902: // Error Comment
				if length > 0 {
					msg.ErrorComment = trimUIDPadding(string(data[valueStart:valueEnd]))
				}
			case 0x0903: // Error ID
				if length == 2 {
					msg.ErrorID = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				} else {
					slog.Warn("Error ID has wrong length", "length", length)
				}
			case 0x1005: // Attribute Identifier List (AT VR, group+element pairs)
				if length > 0 && length%4 == 0 {
					tags := make([]uint32, 0, length/4)
					for i := valueStart; i+4 <= valueEnd; i += 4 {
						group := binary.LittleEndian.Uint16(data[i : i+2])
						elem := binary.LittleEndian.Uint16(data[i+2 : i+4])
						tags = append(tags, uint32(group)<<16|uint32(elem))
					}
					msg.AttributeIdentifierList = tags
				} else {
					slog.Warn("Attribute Identifier List has non-multiple-of-4 length", "length", length)
				}
			case 0x0120: // Message ID Being Responded To
				if length == 2 {
					msg.MessageIDBeingRespondedTo = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				}
			case 0x1020, 0x1021, 0x1022, 0x1023: // Remaining/Completed/Failed/Warning sub-operations
				if length == 2 {
					v := binary.LittleEndian.Uint16(data[valueStart:valueEnd])
					counters := map[uint16]**uint16{
						0x1020: &msg.NumberOfRemainingSuboperations, 0x1021: &msg.NumberOfCompletedSuboperations,
						0x1022: &msg.NumberOfFailedSuboperations, 0x1023: &msg.NumberOfWarningSuboperations,
					}
					*counters[element] = &v
				}
			default:
				// Skip unknown command elements silently
			}
		}

		// Move to next element
		offset += 8 + int(length)

		// Ensure even alignment (DICOM elements should be even-length)
		if length%2 == 1 {
			offset++ // Skip padding byte
		}
	}

	slog.Debug("Parsed DIMSE command",
		"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
		"message_id", msg.MessageID)
	return msg, nil
}

// trimUIDPadding strips the NUL padding byte a UI-VR value may carry.
func trimUIDPadding(s string) string {
	if idx := strings.IndexByte(s, 0); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// createDIMSECommand creates a DIMSE command as bytes, wrapped in a Command
// Group Length (0000,0000) element so the receiving PDU layer can frame the
// command set without needing to know its contents in advance.
func createDIMSECommand(msg *types.Message) []byte {
	elements := createDIMSECommandElements(msg)

	groupLength := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLength, uint32(len(elements)))

	result := make([]byte, 0, len(elements)+12)
	result = append(result, 0x00, 0x00, 0x00, 0x00) // Tag: Command Group Length
	result = append(result, 0x04, 0x00, 0x00, 0x00) // Length = 4
	result = append(result, groupLength...)
	result = append(result, elements...)
	return result
}

// createDIMSECommandElements encodes every command-group element other than
// the Group Length itself.
func createDIMSECommandElements(msg *types.Message) []byte {
	var result []byte

	// Command Field (0000,0100)
	result = append(result, 0x00, 0x00, 0x00, 0x01) // Tag
	result = append(result, 0x02, 0x00, 0x00, 0x00) // Length = 2
	cmdBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(cmdBytes, msg.CommandField)
	result = append(result, cmdBytes...)

	// Message ID (0000,0110) - present on requests
	if msg.MessageID > 0 && msg.MessageIDBeingRespondedTo == 0 {
		result = append(result, 0x00, 0x00, 0x10, 0x01) // Tag
		result = append(result, 0x02, 0x00, 0x00, 0x00) // Length = 2
		msgIDBytes := make([]byte, 2)
		binary.LittleEndian.PutUint16(msgIDBytes, msg.MessageID)
		result = append(result, msgIDBytes...)
	}

	// Message ID Being Responded To (0000,0120)
	if msg.MessageIDBeingRespondedTo > 0 {
		result = append(result, 0x00, 0x00, 0x20, 0x01) // Tag
		result = append(result, 0x02, 0x00, 0x00, 0x00) // Length = 2
		msgIDBytes := make([]byte, 2)
		binary.LittleEndian.PutUint16(msgIDBytes, msg.MessageIDBeingRespondedTo)
		result = append(result, msgIDBytes...)
	}

	// Command Data Set Type (0000,0800)
	result = append(result, 0x00, 0x00, 0x00, 0x08) // Tag
	result = append(result, 0x02, 0x00, 0x00, 0x00) // Length = 2
	dataSetTypeBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(dataSetTypeBytes, msg.CommandDataSetType)
	result = append(result, dataSetTypeBytes...)

	// Status (0000,0900)
	result = append(result, 0x00, 0x00, 0x00, 0x09) // Tag
	result = append(result, 0x02, 0x00, 0x00, 0x00) // Length = 2
	statusBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(statusBytes, msg.Status)
	result = append(result, statusBytes...)

	// Affected SOP Class UID (0000,0002)
	if msg.AffectedSOPClassUID != "" {
		result = append(result, 0x00, 0x00, 0x02, 0x00) // Tag
		sopClassUIDBytes := []byte(msg.AffectedSOPClassUID)
		// Ensure even length
		if len(sopClassUIDBytes)%2 == 1 {
			sopClassUIDBytes = append(sopClassUIDBytes, 0x00) // Null pad
		}
		lengthBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(lengthBytes, uint32(len(sopClassUIDBytes)))
		result = append(result, lengthBytes...)
		result = append(result, sopClassUIDBytes...)
	}

	// Requested SOP Class UID (0000,0003)
	if msg.RequestedSOPClassUID != "" {
		result = append(result, 0x00, 0x00, 0x03, 0x00) // Tag
		bytes := []byte(msg.RequestedSOPClassUID)
		if len(bytes)%2 == 1 {
			bytes = append(bytes, 0x00)
		}
		lengthBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(lengthBytes, uint32(len(bytes)))
		result = append(result, lengthBytes...)
		result = append(result, bytes...)
	}

	// Priority (0000,0700) - required on requests
	if msg.Priority != 0 || !types.IsResponse(msg.CommandField) {
		result = append(result, 0x00, 0x00, 0x00, 0x07) // Tag
		result = append(result, 0x02, 0x00, 0x00, 0x00) // Length = 2
		priorityBytes := make([]byte, 2)
		binary.LittleEndian.PutUint16(priorityBytes, msg.Priority)
		result = append(result, priorityBytes...)
	}

	// Affected SOP Instance UID (0000,1000)
	if msg.AffectedSOPInstanceUID != "" {
		result = append(result, 0x00, 0x00, 0x00, 0x10) // Tag
		bytes := []byte(msg.AffectedSOPInstanceUID)
		if len(bytes)%2 == 1 {
			bytes = append(bytes, 0x00)
		}
		lengthBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(lengthBytes, uint32(len(bytes)))
		result = append(result, lengthBytes...)
		result = append(result, bytes...)
	}

	// Requested SOP Instance UID (0000,1001)
	if msg.RequestedSOPInstanceUID != "" {
		result = append(result, 0x00, 0x00, 0x01, 0x10) // Tag
		bytes := []byte(msg.RequestedSOPInstanceUID)
		if len(bytes)%2 == 1 {
			bytes = append(bytes, 0x00)
		}
		lengthBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(lengthBytes, uint32(len(bytes)))
		result = append(result, lengthBytes...)
		result = append(result, bytes...)
	}

	// Error Comment (0000,0902) - present on failure/warning responses
	if msg.ErrorComment != "" {
		result = append(result, 0x00, 0x00, 0x02, 0x09) // Tag
		bytes := []byte(msg.ErrorComment)
		if len(bytes)%2 == 1 {
			bytes = append(bytes, 0x00)
		}
		lengthBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(lengthBytes, uint32(len(bytes)))
		result = append(result, lengthBytes...)
		result = append(result, bytes...)
	}

	// Error ID (0000,0903)
	if msg.ErrorID != 0 {
		result = append(result, 0x00, 0x00, 0x03, 0x09) // Tag
		result = append(result, 0x02, 0x00, 0x00, 0x00) // Length = 2
		errIDBytes := make([]byte, 2)
		binary.LittleEndian.PutUint16(errIDBytes, msg.ErrorID)
		result = append(result, errIDBytes...)
	}

	// Attribute Identifier List (0000,1005) - AT VR, one group/element pair per tag
	if len(msg.AttributeIdentifierList) > 0 {
		result = append(result, 0x00, 0x00, 0x05, 0x10) // Tag
		lengthBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(lengthBytes, uint32(len(msg.AttributeIdentifierList)*4))
		result = append(result, lengthBytes...)
		for _, tag := range msg.AttributeIdentifierList {
			pairBytes := make([]byte, 4)
			binary.LittleEndian.PutUint16(pairBytes[0:2], uint16(tag>>16))
			binary.LittleEndian.PutUint16(pairBytes[2:4], uint16(tag))
			result = append(result, pairBytes...)
		}
	}

	// C-MOVE/C-GET response counters (optional, only on C-MOVE-RSP/C-GET-RSP)
	if msg.NumberOfRemainingSuboperations != nil {
		result = append(result, 0x00, 0x00, 0x20, 0x10) // Tag: 0000,1020
		result = append(result, 0x02, 0x00, 0x00, 0x00) // Length = 2
		remaining := make([]byte, 2)
		binary.LittleEndian.PutUint16(remaining, *msg.NumberOfRemainingSuboperations)
		result = append(result, remaining...)
	}

	if msg.NumberOfCompletedSuboperations != nil {
		result = append(result, 0x00, 0x00, 0x21, 0x10) // Tag: 0000,1021
		result = append(result, 0x02, 0x00, 0x00, 0x00) // Length = 2
		completed := make([]byte, 2)
		binary.LittleEndian.PutUint16(completed, *msg.NumberOfCompletedSuboperations)
		result = append(result, completed...)
	}

	if msg.NumberOfFailedSuboperations != nil {
		result = append(result, 0x00, 0x00, 0x22, 0x10) // Tag: 0000,1022
		result = append(result, 0x02, 0x00, 0x00, 0x00) // Length = 2
		failed := make([]byte, 2)
		binary.LittleEndian.PutUint16(failed, *msg.NumberOfFailedSuboperations)
		result = append(result, failed...)
	}

	if msg.NumberOfWarningSuboperations != nil {
		result = append(result, 0x00, 0x00, 0x23, 0x10) // Tag: 0000,1023
		result = append(result, 0x02, 0x00, 0x00, 0x00) // Length = 2
		warning := make([]byte, 2)
		binary.LittleEndian.PutUint16(warning, *msg.NumberOfWarningSuboperations)
		result = append(result, warning...)
	}

	return result
}
