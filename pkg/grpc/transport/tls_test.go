package transport

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadClientTLSConfigFromStruct(t *testing.T) {
	cfg, err := LoadClientTLSConfigFromStruct(nil)
	if err != nil {
		t.Fatalf("Unexpected error for nil config: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS12 || cfg.RootCAs != nil {
		t.Errorf("Expected TLS 1.2 with system roots, got %+v", cfg)
	}

	cfg, err = LoadClientTLSConfigFromStruct(&TLSConfig{SkipVerify: true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !cfg.InsecureSkipVerify {
		t.Error("Expected SkipVerify to carry through")
	}

	if _, err := LoadClientTLSConfigFromStruct(&TLSConfig{CAFile: filepath.Join(t.TempDir(), "missing.pem")}); err == nil ||
		!strings.Contains(err.Error(), "failed to read CA certificate") {
		t.Errorf("Expected a read error for a missing CA file, got %v", err)
	}

	garbage := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(garbage, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadClientTLSConfigFromStruct(&TLSConfig{CAFile: garbage}); err == nil ||
		!strings.Contains(err.Error(), "failed to parse CA certificate") {
		t.Errorf("Expected a parse error for a bad CA file, got %v", err)
	}

	if _, err := LoadClientTLSConfigFromStruct(&TLSConfig{CertFile: garbage, KeyFile: garbage}); err == nil ||
		!strings.Contains(err.Error(), "client key pair") {
		t.Errorf("Expected a key pair error, got %v", err)
	}
}

func TestLoadServerTLSConfigRequiresKeyPair(t *testing.T) {
	if _, err := LoadServerTLSConfig("", "", ""); err == nil {
		t.Error("Expected an error without certificate and key")
	}
	if _, err := LoadServerTLSConfig("/nonexistent/cert.pem", "/nonexistent/key.pem", ""); err == nil ||
		!strings.Contains(err.Error(), "server key pair") {
		t.Errorf("Expected a key pair error, got %v", err)
	}
}
