package session

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/fetchd/fetchd/internal/protocol/frame"
	"github.com/fetchd/fetchd/internal/protocol/schema"
	"github.com/fetchd/fetchd/internal/protocol/tlv"
)

// DownloadRequest is the wire shape of one ExecuteCommand call.
type DownloadRequest struct {
	RequestID      string
	Link           string
	Path           string
	DownloadType   string
	OutputFormat   string
	Resolution     string
	Playlist       bool
	Retries        uint32
	EmbedSubtitles bool
	EmbedThumbnail bool
	// TimeoutMS is the caller's deadline for the whole call in
	// milliseconds; 0 leaves the node's own request timeout in charge.
	TimeoutMS uint64
}

func (r DownloadRequest) Validate() error {
	if strings.TrimSpace(r.RequestID) == "" {
		return fmt.Errorf("download.request missing request_id")
	}
	if strings.TrimSpace(r.Link) == "" {
		return fmt.Errorf("download.request missing link")
	}
	if strings.TrimSpace(r.Path) == "" {
		return fmt.Errorf("download.request missing path")
	}
	if strings.TrimSpace(r.DownloadType) == "" {
		return fmt.Errorf("download.request missing download_type")
	}
	return nil
}

// DownloadResponse is the wire shape of one ExecuteCommand answer. The
// request config is echoed back with ResolvedPath refined to the verified
// artifact location on success.
type DownloadResponse struct {
	RequestID      string
	Link           string
	Path           string
	DownloadType   string
	OutputFormat   string
	Resolution     string
	Playlist       bool
	Retries        uint32
	EmbedSubtitles bool
	EmbedThumbnail bool
	ResolvedPath   string
	Status         uint32
	ErrorMessage   string
	TimestampMS    uint64
}

func (r DownloadResponse) Validate() error {
	if strings.TrimSpace(r.RequestID) == "" {
		return fmt.Errorf("download.response missing request_id")
	}
	if r.TimestampMS == 0 {
		return fmt.Errorf("download.response missing timestamp_ms")
	}
	if r.Status != 0 && strings.TrimSpace(r.ErrorMessage) == "" {
		return fmt.Errorf("download.response status=%d without error_message", r.Status)
	}
	if r.Status == 0 && strings.TrimSpace(r.ErrorMessage) != "" {
		return fmt.Errorf("download.response success with error_message")
	}
	return nil
}

// EncodeRequestFrame renders one download.request message.
func EncodeRequestFrame(messageID uint64, req DownloadRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		tlv.String(schema.FieldRequestID, req.RequestID),
		tlv.String(schema.FieldLink, req.Link),
		tlv.String(schema.FieldPath, req.Path),
		tlv.String(schema.FieldDownloadType, req.DownloadType),
		tlv.String(schema.FieldOutputFormat, req.OutputFormat),
		tlv.String(schema.FieldResolution, req.Resolution),
		tlv.Bool(schema.FieldPlaylist, req.Playlist),
		tlv.U32(schema.FieldRetries, req.Retries),
		tlv.Bool(schema.FieldEmbedSubtitles, req.EmbedSubtitles),
		tlv.Bool(schema.FieldEmbedThumbnail, req.EmbedThumbnail),
		tlv.U64(schema.FieldTimeoutMS, req.TimeoutMS),
	}
	if err := schema.Validate(schema.MsgDownloadRequest, fields); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	err := frame.WriteFrame(&buf, frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: schema.MsgDownloadRequest,
		},
		Payload: tlv.EncodeFields(fields),
	}, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeRequestFrame parses one download.request message.
func DecodeRequestFrame(f frame.Frame) (DownloadRequest, error) {
	if f.Header.MessageType != schema.MsgDownloadRequest {
		return DownloadRequest{}, fmt.Errorf("session: unexpected message_type=%d", f.Header.MessageType)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return DownloadRequest{}, err
	}
	if err := schema.Validate(schema.MsgDownloadRequest, fields); err != nil {
		return DownloadRequest{}, err
	}
	req := DownloadRequest{
		RequestID:    requiredString(fields, schema.FieldRequestID),
		Link:         requiredString(fields, schema.FieldLink),
		Path:         requiredString(fields, schema.FieldPath),
		DownloadType: requiredString(fields, schema.FieldDownloadType),
	}
	req.OutputFormat = optionalString(fields, schema.FieldOutputFormat)
	req.Resolution = optionalString(fields, schema.FieldResolution)
	if req.Playlist, err = optionalBool(fields, schema.FieldPlaylist); err != nil {
		return DownloadRequest{}, err
	}
	if req.Retries, err = optionalU32(fields, schema.FieldRetries); err != nil {
		return DownloadRequest{}, err
	}
	if req.EmbedSubtitles, err = optionalBool(fields, schema.FieldEmbedSubtitles); err != nil {
		return DownloadRequest{}, err
	}
	if req.EmbedThumbnail, err = optionalBool(fields, schema.FieldEmbedThumbnail); err != nil {
		return DownloadRequest{}, err
	}
	if req.TimeoutMS, err = optionalU64(fields, schema.FieldTimeoutMS); err != nil {
		return DownloadRequest{}, err
	}
	return req, nil
}

// EncodeResponseFrame renders one download.response message.
func EncodeResponseFrame(messageID uint64, resp DownloadResponse) ([]byte, error) {
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		tlv.String(schema.FieldRequestID, resp.RequestID),
		tlv.String(schema.FieldLink, resp.Link),
		tlv.String(schema.FieldPath, resp.Path),
		tlv.String(schema.FieldDownloadType, resp.DownloadType),
		tlv.String(schema.FieldOutputFormat, resp.OutputFormat),
		tlv.String(schema.FieldResolution, resp.Resolution),
		tlv.Bool(schema.FieldPlaylist, resp.Playlist),
		tlv.U32(schema.FieldRetries, resp.Retries),
		tlv.Bool(schema.FieldEmbedSubtitles, resp.EmbedSubtitles),
		tlv.Bool(schema.FieldEmbedThumbnail, resp.EmbedThumbnail),
		tlv.String(schema.FieldResolvedPath, resp.ResolvedPath),
		tlv.U32(schema.FieldStatus, resp.Status),
		tlv.String(schema.FieldErrorMessage, resp.ErrorMessage),
		tlv.U64(schema.FieldTimestampMS, resp.TimestampMS),
	}
	if err := schema.Validate(schema.MsgDownloadResponse, fields); err != nil {
		return nil, err
	}
	flags := frame.FlagIsResponse
	if resp.Status != 0 {
		flags |= frame.FlagIsError
	}
	var buf bytes.Buffer
	err := frame.WriteFrame(&buf, frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: schema.MsgDownloadResponse,
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeResponseFrame parses one download.response message.
func DecodeResponseFrame(f frame.Frame) (DownloadResponse, error) {
	if f.Header.MessageType != schema.MsgDownloadResponse {
		return DownloadResponse{}, fmt.Errorf("session: unexpected message_type=%d", f.Header.MessageType)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return DownloadResponse{}, err
	}
	if err := schema.Validate(schema.MsgDownloadResponse, fields); err != nil {
		return DownloadResponse{}, err
	}
	resp := DownloadResponse{
		RequestID:    requiredString(fields, schema.FieldRequestID),
		Link:         optionalString(fields, schema.FieldLink),
		Path:         optionalString(fields, schema.FieldPath),
		DownloadType: optionalString(fields, schema.FieldDownloadType),
		OutputFormat: optionalString(fields, schema.FieldOutputFormat),
		Resolution:   optionalString(fields, schema.FieldResolution),
		ResolvedPath: optionalString(fields, schema.FieldResolvedPath),
		ErrorMessage: optionalString(fields, schema.FieldErrorMessage),
	}
	if resp.Playlist, err = optionalBool(fields, schema.FieldPlaylist); err != nil {
		return DownloadResponse{}, err
	}
	if resp.Retries, err = optionalU32(fields, schema.FieldRetries); err != nil {
		return DownloadResponse{}, err
	}
	if resp.EmbedSubtitles, err = optionalBool(fields, schema.FieldEmbedSubtitles); err != nil {
		return DownloadResponse{}, err
	}
	if resp.EmbedThumbnail, err = optionalBool(fields, schema.FieldEmbedThumbnail); err != nil {
		return DownloadResponse{}, err
	}
	status, _ := tlv.Lookup(fields, schema.FieldStatus)
	if resp.Status, err = status.AsU32(); err != nil {
		return DownloadResponse{}, err
	}
	ts, _ := tlv.Lookup(fields, schema.FieldTimestampMS)
	if resp.TimestampMS, err = ts.AsU64(); err != nil {
		return DownloadResponse{}, err
	}
	return resp, nil
}

// EncodeErrorFrame renders one error message answering messageID. It is
// the reply for frames that never reach request decoding, such as an
// unsupported message type.
func EncodeErrorFrame(messageID uint64, status uint32, message string) ([]byte, error) {
	fields := []tlv.Field{
		tlv.U32(schema.FieldStatus, status),
		tlv.String(schema.FieldErrorMessage, message),
	}
	if err := schema.Validate(schema.MsgError, fields); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	err := frame.WriteFrame(&buf, frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: schema.MsgError,
			Flags:       frame.FlagIsResponse | frame.FlagIsError,
		},
		Payload: tlv.EncodeFields(fields),
	}, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeErrorFrame parses one error message into status and message.
func DecodeErrorFrame(f frame.Frame) (uint32, string, error) {
	if f.Header.MessageType != schema.MsgError {
		return 0, "", fmt.Errorf("session: unexpected message_type=%d", f.Header.MessageType)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return 0, "", err
	}
	if err := schema.Validate(schema.MsgError, fields); err != nil {
		return 0, "", err
	}
	statusField, _ := tlv.Lookup(fields, schema.FieldStatus)
	status, err := statusField.AsU32()
	if err != nil {
		return 0, "", err
	}
	return status, optionalString(fields, schema.FieldErrorMessage), nil
}

// ReadFrame reads one framed message from the stream.
func ReadFrame(r io.Reader, limits frame.Limits) (frame.Frame, error) {
	return frame.ReadFrame(r, limits)
}

func requiredString(fields []tlv.Field, id uint16) string {
	f, _ := tlv.Lookup(fields, id)
	return string(f.Value)
}

func optionalString(fields []tlv.Field, id uint16) string {
	f, ok := tlv.Lookup(fields, id)
	if !ok {
		return ""
	}
	return string(f.Value)
}

func optionalBool(fields []tlv.Field, id uint16) (bool, error) {
	f, ok := tlv.Lookup(fields, id)
	if !ok {
		return false, nil
	}
	return f.AsBool()
}

func optionalU32(fields []tlv.Field, id uint16) (uint32, error) {
	f, ok := tlv.Lookup(fields, id)
	if !ok {
		return 0, nil
	}
	return f.AsU32()
}

func optionalU64(fields []tlv.Field, id uint16) (uint64, error) {
	f, ok := tlv.Lookup(fields, id)
	if !ok {
		return 0, nil
	}
	return f.AsU64()
}
