package session

import (
	"errors"
	"testing"
)

func TestValidateServerTransport(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want error
	}{
		{
			name: "development plaintext allowed",
			cfg:  Config{SecurityMode: SecurityModeDevelopment},
			want: nil,
		},
		{
			name: "production requires tls",
			cfg:  Config{SecurityMode: SecurityModeProduction},
			want: ErrTLSRequired,
		},
		{
			name: "production requires mutual",
			cfg: Config{
				SecurityMode: SecurityModeProduction,
				TLS:          TLSConfig{Enabled: true, CertFile: "s.crt", KeyFile: "s.key"},
			},
			want: ErrMTLSRequired,
		},
		{
			name: "tls requires cert file",
			cfg: Config{
				TLS: TLSConfig{Enabled: true, KeyFile: "s.key"},
			},
			want: ErrTLSCertFileRequired,
		},
		{
			name: "tls requires key file",
			cfg: Config{
				TLS: TLSConfig{Enabled: true, CertFile: "s.crt"},
			},
			want: ErrTLSKeyFileRequired,
		},
		{
			name: "mutual requires ca file",
			cfg: Config{
				TLS: TLSConfig{Enabled: true, Mutual: true, CertFile: "s.crt", KeyFile: "s.key"},
			},
			want: ErrTLSCAFileRequired,
		},
		{
			name: "mutual without tls rejected",
			cfg: Config{
				TLS: TLSConfig{Mutual: true},
			},
			want: ErrTLSRequired,
		},
		{
			name: "unknown mode rejected",
			cfg:  Config{SecurityMode: "paranoid"},
			want: ErrInvalidSecurityMode,
		},
		{
			name: "full mtls accepted",
			cfg: Config{
				SecurityMode: SecurityModeProduction,
				TLS: TLSConfig{
					Enabled: true, Mutual: true,
					CertFile: "s.crt", KeyFile: "s.key", CAFile: "ca.pem",
				},
			},
			want: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.ValidateServerTransport()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected ok, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateClientTransport(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want error
	}{
		{
			name: "development plaintext allowed",
			cfg:  Config{},
			want: nil,
		},
		{
			name: "production rejects insecure skip verify",
			cfg: Config{
				SecurityMode: SecurityModeProduction,
				TLS: TLSConfig{
					Enabled: true, Mutual: true, InsecureSkipVerify: true,
					CertFile: "c.crt", KeyFile: "c.key", CAFile: "ca.pem",
				},
			},
			want: ErrTLSInsecureSkipNotAllow,
		},
		{
			name: "tls needs trust anchor unless skipping",
			cfg: Config{
				TLS: TLSConfig{Enabled: true},
			},
			want: ErrTLSCAFileRequired,
		},
		{
			name: "server auth only accepted",
			cfg: Config{
				TLS: TLSConfig{Enabled: true, CAFile: "ca.pem"},
			},
			want: nil,
		},
		{
			name: "mutual requires client cert",
			cfg: Config{
				TLS: TLSConfig{Enabled: true, Mutual: true, CAFile: "ca.pem"},
			},
			want: ErrTLSCertFileRequired,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.ValidateClientTransport()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected ok, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{}.WithDefaults()
	def := DefaultConfig()
	if cfg.ConnectTimeout != def.ConnectTimeout {
		t.Fatalf("connect timeout not defaulted: %v", cfg.ConnectTimeout)
	}
	if cfg.RequestTimeout != def.RequestTimeout {
		t.Fatalf("request timeout not defaulted: %v", cfg.RequestTimeout)
	}
	if cfg.Backoff.Multiplier != def.Backoff.Multiplier {
		t.Fatalf("backoff multiplier not defaulted: %v", cfg.Backoff.Multiplier)
	}
}
