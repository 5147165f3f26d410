package server

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fetchd/fetchd/internal/download"
	"github.com/fetchd/fetchd/internal/observability"
	"github.com/fetchd/fetchd/internal/protocol/frame"
	"github.com/fetchd/fetchd/internal/protocol/schema"
	"github.com/fetchd/fetchd/internal/protocol/session"
)

// handleFrame turns one request frame into an encoded response frame.
// Every expected failure class lands in the response status; nothing
// escapes the call except a broken connection.
func (s *Service) handleFrame(ctx context.Context, fr frame.Frame) []byte {
	if fr.Header.MessageType != schema.MsgDownloadRequest {
		s.log.Warn().Uint32("message_type", fr.Header.MessageType).Msg("unexpected message type")
		payload, err := session.EncodeErrorFrame(fr.Header.MessageID, download.StatusValidation,
			fmt.Sprintf("unsupported message_type=%d", fr.Header.MessageType))
		if err != nil {
			s.log.Error().Err(err).Msg("encode error frame failed")
			return nil
		}
		return payload
	}

	req, err := session.DecodeRequestFrame(fr)
	if err != nil {
		s.log.Warn().Err(err).Msg("malformed download request")
		resp := session.DownloadResponse{
			RequestID:    uuid.NewString(),
			Status:       download.StatusValidation,
			ErrorMessage: err.Error(),
			TimestampMS:  uint64(time.Now().UnixMilli()),
		}
		payload, encErr := session.EncodeResponseFrame(fr.Header.MessageID, resp)
		if encErr != nil {
			s.log.Error().Err(encErr).Msg("encode error response failed")
			return nil
		}
		return payload
	}

	resp := s.executeCall(ctx, req)
	payload, err := session.EncodeResponseFrame(fr.Header.MessageID, resp)
	if err != nil {
		s.log.Error().Err(err).Str("request_id", req.RequestID).Msg("encode response failed")
		return nil
	}
	return payload
}

// executeCall runs the synthesize→execute→verify pipeline for one request.
// The pipeline holds no state shared with other calls.
func (s *Service) executeCall(ctx context.Context, req session.DownloadRequest) session.DownloadResponse {
	started := time.Now()
	log := s.log.With().Str("request_id", req.RequestID).Str("link", req.Link).Logger()
	observability.TrackInflight(s.cfg.NodeID, 1)
	defer observability.TrackInflight(s.cfg.NodeID, -1)

	resp := echoResponse(req)

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return s.finish(log, resp, req, started, 0, err)
		}
	}

	cfg, err := configFromRequest(req)
	if err != nil {
		return s.finish(log, resp, req, started, 0, err)
	}

	args, err := download.Synthesize(cfg)
	if err != nil {
		return s.finish(log, resp, req, started, 0, err)
	}
	log.Info().Strs("args", args).Msg("command synthesized")

	// The caller's deadline wins when it is tighter than the node's own
	// request timeout, so the child dies when the caller gives up.
	timeout := s.cfg.Session.RequestTimeout
	if req.TimeoutMS > 0 {
		if d := time.Duration(req.TimeoutMS) * time.Millisecond; d < timeout {
			timeout = d
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := s.exec.Run(callCtx, args, cfg.Retries)
	if err != nil {
		return s.finish(log, resp, req, started, res.Attempts, err)
	}
	log.Debug().Str("stdout", res.Stdout).Str("stderr", res.Stderr).Msg("tool output")

	resolved, err := download.Verify(cfg, res)
	if err != nil {
		return s.finish(log, resp, req, started, res.Attempts, err)
	}

	resp.ResolvedPath = resolved
	return s.finish(log, resp, req, started, res.Attempts, nil)
}

// finish stamps status, error message and metrics onto the response.
func (s *Service) finish(
	log zerolog.Logger,
	resp session.DownloadResponse,
	req session.DownloadRequest,
	started time.Time,
	attempts int,
	err error,
) session.DownloadResponse {
	resp.Status = download.StatusForError(err)
	if err != nil {
		resp.ErrorMessage = err.Error()
	}
	resp.TimestampMS = uint64(time.Now().UnixMilli())

	duration := time.Since(started)
	observability.RecordDownload(s.cfg.NodeID, downloadTypeLabel(req.DownloadType), strconv.FormatUint(uint64(resp.Status), 10), attempts, duration)
	if err != nil {
		log.Warn().Dur("duration", duration).Uint32("status", resp.Status).Err(err).Msg("call failed")
	} else {
		log.Info().Dur("duration", duration).Str("resolved_path", resp.ResolvedPath).Msg("call succeeded")
	}
	return resp
}

// echoResponse copies the request config into a response skeleton.
func echoResponse(req session.DownloadRequest) session.DownloadResponse {
	return session.DownloadResponse{
		RequestID:      req.RequestID,
		Link:           req.Link,
		Path:           req.Path,
		DownloadType:   req.DownloadType,
		OutputFormat:   req.OutputFormat,
		Resolution:     req.Resolution,
		Playlist:       req.Playlist,
		Retries:        req.Retries,
		EmbedSubtitles: req.EmbedSubtitles,
		EmbedThumbnail: req.EmbedThumbnail,
	}
}

// downloadTypeLabel normalizes the wire download type for metric labels.
// The raw value is client-controlled and must not mint label values.
func downloadTypeLabel(raw string) string {
	typ, err := download.ParseType(raw)
	if err != nil {
		return "invalid"
	}
	return string(typ)
}

// configFromRequest maps wire fields onto the domain config.
func configFromRequest(req session.DownloadRequest) (download.Config, error) {
	typ, err := download.ParseType(req.DownloadType)
	if err != nil {
		return download.Config{}, err
	}
	return download.Config{
		Link:           req.Link,
		Path:           req.Path,
		Type:           typ,
		OutputFormat:   req.OutputFormat,
		Resolution:     req.Resolution,
		Playlist:       req.Playlist,
		Retries:        int(req.Retries),
		EmbedSubtitles: req.EmbedSubtitles,
		EmbedThumbnail: req.EmbedThumbnail,
	}, nil
}
