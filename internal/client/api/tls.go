package api

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
)

// TLSFiles locates the PEM files for talking to a self-hosted backend.
type TLSFiles struct {
	// CA, when set, replaces the system roots.
	CA string
	// Cert and Key hold the device certificate issued for this user.
	Cert string
	Key  string
}

// NewHTTPClient returns an http.Client for the backend. With no files set the
// default transport is used.
//
// The client carries no overall timeout: account calls are bounded per request and
// analysis calls by the submission coordinator.
func NewHTTPClient(files TLSFiles) (*http.Client, error) {
	if files.CA == "" && files.Cert == "" && files.Key == "" {
		return &http.Client{}, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if files.CA != "" {
		caCert, err := os.ReadFile(files.CA)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA cert")
		}
		cfg.RootCAs = caPool
	}

	if files.Cert != "" || files.Key != "" {
		pair, err := tls.LoadX509KeyPair(files.Cert, files.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to load device certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = cfg
	return &http.Client{Transport: transport}, nil
}
