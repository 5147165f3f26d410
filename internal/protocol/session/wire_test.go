package session

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fetchd/fetchd/internal/protocol/frame"
)

func sampleRequest() DownloadRequest {
	return DownloadRequest{
		RequestID:      "req.1",
		Link:           "https://example/watch?v=X",
		Path:           "/downloads",
		DownloadType:   "audio",
		OutputFormat:   "mp3",
		Resolution:     "",
		Playlist:       false,
		Retries:        3,
		EmbedSubtitles: true,
		EmbedThumbnail: false,
		TimeoutMS:      90000,
	}
}

func TestRequestFrameRoundTrip(t *testing.T) {
	payload, err := EncodeRequestFrame(7, sampleRequest())
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	f, err := ReadFrame(bytes.NewReader(payload), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if f.Header.MessageID != 7 {
		t.Fatalf("message_id mismatch: %d", f.Header.MessageID)
	}
	got, err := DecodeRequestFrame(f)
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if got != sampleRequest() {
		t.Fatalf("request round trip mismatch:\n got %+v\nwant %+v", got, sampleRequest())
	}
}

func TestRequestValidateRejectsMissingLink(t *testing.T) {
	req := sampleRequest()
	req.Link = "  "
	if _, err := EncodeRequestFrame(1, req); err == nil || !strings.Contains(err.Error(), "link") {
		t.Fatalf("expected missing link error, got %v", err)
	}
}

func TestResponseFrameRoundTrip(t *testing.T) {
	resp := DownloadResponse{
		RequestID:    "req.1",
		Link:         "https://example/watch?v=X",
		Path:         "/downloads",
		DownloadType: "audio",
		OutputFormat: "mp3",
		Retries:      3,
		ResolvedPath: "/downloads/track.mp3",
		Status:       0,
		TimestampMS:  1700000000000,
	}
	payload, err := EncodeResponseFrame(7, resp)
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	f, err := ReadFrame(bytes.NewReader(payload), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if f.Header.Flags&frame.FlagIsResponse == 0 {
		t.Fatalf("response flag not set: %x", f.Header.Flags)
	}
	if f.Header.Flags&frame.FlagIsError != 0 {
		t.Fatalf("error flag set on success: %x", f.Header.Flags)
	}
	got, err := DecodeResponseFrame(f)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got != resp {
		t.Fatalf("response round trip mismatch:\n got %+v\nwant %+v", got, resp)
	}
}

func TestResponseFailureSetsErrorFlag(t *testing.T) {
	resp := DownloadResponse{
		RequestID:    "req.2",
		Status:       3,
		ErrorMessage: "yt-dlp exited with code 1",
		TimestampMS:  1700000000001,
	}
	payload, err := EncodeResponseFrame(8, resp)
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	f, err := ReadFrame(bytes.NewReader(payload), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if f.Header.Flags&frame.FlagIsError == 0 {
		t.Fatalf("error flag not set: %x", f.Header.Flags)
	}
	got, err := DecodeResponseFrame(f)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != 3 || got.ErrorMessage != resp.ErrorMessage {
		t.Fatalf("failure response mismatch: %+v", got)
	}
}

func TestResponseValidateStatusMessagePairing(t *testing.T) {
	bad := DownloadResponse{RequestID: "req.3", Status: 2, TimestampMS: 1}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for failure status without message")
	}
	alsoBad := DownloadResponse{RequestID: "req.3", Status: 0, ErrorMessage: "boom", TimestampMS: 1}
	if err := alsoBad.Validate(); err == nil {
		t.Fatalf("expected error for success status with message")
	}
}

func TestErrorFrameRoundTrip(t *testing.T) {
	payload, err := EncodeErrorFrame(11, 1, "unsupported message_type=99")
	if err != nil {
		t.Fatalf("encode error frame: %v", err)
	}
	f, err := ReadFrame(bytes.NewReader(payload), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if f.Header.Flags&frame.FlagIsError == 0 {
		t.Fatalf("error flag not set: %x", f.Header.Flags)
	}
	status, message, err := DecodeErrorFrame(f)
	if err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if status != 1 || !strings.Contains(message, "message_type=99") {
		t.Fatalf("error frame mismatch: status=%d message=%q", status, message)
	}
}

func TestDecodeRequestFrameWrongMessageType(t *testing.T) {
	payload, err := EncodeResponseFrame(9, DownloadResponse{
		RequestID: "req.4", Status: 0, TimestampMS: 2,
	})
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	f, err := ReadFrame(bytes.NewReader(payload), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if _, err := DecodeRequestFrame(f); err == nil {
		t.Fatalf("expected message type error")
	}
}
