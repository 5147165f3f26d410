// Package credentials ships development TLS material inside the binary and
// materializes it to an ephemeral directory for the TLS layer, which wants
// file paths. The directory is removed by the returned cleanup on every
// exit path.
package credentials

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed certs/ca.pem certs/server.pem certs/server.key certs/client.pem certs/client.key
var packaged embed.FS

// Paths points at materialized credential files for one endpoint role.
type Paths struct {
	CAFile   string
	CertFile string
	KeyFile  string
}

// MaterializeServer provisions the packaged server certificate, key and
// trust anchor. The cleanup removes the ephemeral copies and is safe to
// call more than once.
func MaterializeServer() (Paths, func(), error) {
	return materialize("server.pem", "server.key")
}

// MaterializeClient provisions the packaged client certificate, key and
// trust anchor.
func MaterializeClient() (Paths, func(), error) {
	return materialize("client.pem", "client.key")
}

func materialize(certName, keyName string) (Paths, func(), error) {
	dir, err := os.MkdirTemp("", "fetchd-creds-")
	if err != nil {
		return Paths{}, func() {}, fmt.Errorf("credentials: create ephemeral dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	paths := Paths{
		CAFile:   filepath.Join(dir, "ca.pem"),
		CertFile: filepath.Join(dir, certName),
		KeyFile:  filepath.Join(dir, keyName),
	}
	files := map[string]string{
		"ca.pem": paths.CAFile,
		certName: paths.CertFile,
		keyName:  paths.KeyFile,
	}
	for name, dst := range files {
		data, err := packaged.ReadFile("certs/" + name)
		if err != nil {
			cleanup()
			return Paths{}, func() {}, fmt.Errorf("credentials: read packaged %s: %w", name, err)
		}
		if err := os.WriteFile(dst, data, 0o600); err != nil {
			cleanup()
			return Paths{}, func() {}, fmt.Errorf("credentials: write %s: %w", dst, err)
		}
	}
	return paths, cleanup, nil
}
