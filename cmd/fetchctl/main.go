package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fetchd/fetchd/internal/client"
	"github.com/fetchd/fetchd/internal/download"
	"github.com/fetchd/fetchd/internal/logging"
	"github.com/fetchd/fetchd/internal/observability"
	"github.com/fetchd/fetchd/internal/protocol/session"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8082", "fetchd node address")
	link := flag.String("link", "", "media link to download")
	path := flag.String("path", ".", "destination directory on the node")
	downloadType := flag.String("type", "video", "download type: audio or video")
	format := flag.String("format", "", "tool format selector (verbatim)")
	resolution := flag.String("resolution", "", "vertical resolution cap, e.g. 1080")
	playlist := flag.Bool("playlist", false, "allow playlist expansion")
	retries := flag.Uint("retries", 0, "additional attempts after a failed run")
	embedSubs := flag.Bool("embed-subs", false, "embed subtitles into the artifact")
	embedThumb := flag.Bool("embed-thumbnail", false, "embed the thumbnail into the artifact")
	timeout := flag.Duration("timeout", 30*time.Minute, "end-to-end call timeout")

	tlsEnabled := flag.Bool("tls", true, "use tls transport")
	mutual := flag.Bool("mtls", true, "present a client certificate")
	certFile := flag.String("cert", "", "client certificate file (empty: packaged dev credentials)")
	keyFile := flag.String("key", "", "client key file")
	caFile := flag.String("ca", "", "ca bundle file (empty: packaged dev credentials)")
	serverName := flag.String("server-name", "", "expected server certificate name")
	securityMode := flag.String("security-mode", "development", "transport policy: development or production")
	flag.Parse()

	logging.ConfigureRuntime()
	observability.InitLogger("fetchctl")

	if *link == "" {
		log.Fatal().Msg("-link is required")
	}

	cfg := client.Config{Addr: *addr}
	cfg.Session = session.DefaultConfig()
	cfg.Session.RequestTimeout = *timeout
	cfg.Session.SecurityMode = session.SecurityMode(*securityMode)
	cfg.Session.TLS = session.TLSConfig{
		Enabled:    *tlsEnabled,
		Mutual:     *mutual,
		CertFile:   *certFile,
		KeyFile:    *keyFile,
		CAFile:     *caFile,
		ServerName: *serverName,
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+time.Minute)
	defer cancel()

	c, err := client.Dial(ctx, cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *addr).Msg("connect failed")
	}
	defer c.Close()

	resp, err := c.Execute(ctx, session.DownloadRequest{
		Link:           *link,
		Path:           *path,
		DownloadType:   *downloadType,
		OutputFormat:   *format,
		Resolution:     *resolution,
		Playlist:       *playlist,
		Retries:        uint32(*retries),
		EmbedSubtitles: *embedSubs,
		EmbedThumbnail: *embedThumb,
		TimeoutMS:      uint64(timeout.Milliseconds()),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("call failed")
	}

	if resp.Status != download.StatusOK {
		log.Error().Uint32("status", resp.Status).Str("request_id", resp.RequestID).
			Msg(resp.ErrorMessage)
		os.Exit(int(resp.Status))
	}
	fmt.Printf("downloaded: %s\n", resp.ResolvedPath)
}
