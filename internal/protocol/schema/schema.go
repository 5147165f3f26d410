package schema

import (
	"fmt"

	"github.com/fetchd/fetchd/internal/protocol/tlv"
)

// Message type IDs.
const (
	MsgDownloadRequest  uint32 = 1
	MsgDownloadResponse uint32 = 2
	MsgError            uint32 = 3
)

// Field IDs. Request/config fields live below 100, response fields at 200.
const (
	FieldRequestID uint16 = 1

	FieldLink           uint16 = 10
	FieldPath           uint16 = 11
	FieldDownloadType   uint16 = 12
	FieldOutputFormat   uint16 = 13
	FieldResolution     uint16 = 14
	FieldPlaylist       uint16 = 15
	FieldRetries        uint16 = 16
	FieldEmbedSubtitles uint16 = 17
	FieldEmbedThumbnail uint16 = 18
	FieldTimeoutMS      uint16 = 19

	FieldStatus       uint16 = 200
	FieldErrorMessage uint16 = 201
	FieldResolvedPath uint16 = 202
	FieldTimestampMS  uint16 = 203
)

// Requirement names one field a message type must carry.
type Requirement struct {
	ID   uint16
	Type uint8
}

// ValidationError reports a schema violation for one message.
type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgDownloadRequest: {
		{FieldRequestID, tlv.TypeString},
		{FieldLink, tlv.TypeString},
		{FieldPath, tlv.TypeString},
		{FieldDownloadType, tlv.TypeString},
	},
	MsgDownloadResponse: {
		{FieldRequestID, tlv.TypeString},
		{FieldStatus, tlv.TypeU32},
		{FieldTimestampMS, tlv.TypeU64},
	},
	MsgError: {
		{FieldStatus, tlv.TypeU32},
		{FieldErrorMessage, tlv.TypeString},
	},
}

// Validate enforces required fields and their types for a message type.
// Unknown fields are tolerated so older peers can talk to newer ones.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.Lookup(fields, req.ID)
		if !found {
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
