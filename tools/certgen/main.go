// Package main prepares certificates for a self-hosted MISHURA backend: a CA,
// the server certificate and optional device certificates for users.
//
//	certgen -dir certs -hosts localhost,127.0.0.1 -users tg_1,tg_2
//
// With -ca-cert and -ca-key an existing CA is reused, e.g. to add a device.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mishura/stylist/internal/certgen"
)

const (
	caValidity   = 10 * 365 * 24 * time.Hour
	certValidity = 365 * 24 * time.Hour
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "certgen:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("certgen", flag.ContinueOnError)
	dir := fs.String("dir", "certs", "output directory")
	hosts := fs.String("hosts", "localhost,127.0.0.1", "comma-separated server names; empty skips the server certificate")
	users := fs.String("users", "", "comma-separated user ids to issue device certificates for")
	caCert := fs.String("ca-cert", "", "existing CA certificate")
	caKey := fs.String("ca-key", "", "existing CA key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ca, err := authority(*dir, *caCert, *caKey, out)
	if err != nil {
		return err
	}

	if names := splitList(*hosts); len(names) > 0 {
		certPEM, keyPEM, err := ca.IssueServer(names, certValidity)
		if err != nil {
			return fmt.Errorf("server certificate: %w", err)
		}
		if err := certgen.WritePair(*dir, "server", certPEM, keyPEM); err != nil {
			return err
		}
		fmt.Fprintf(out, "server certificate for %s\n", strings.Join(names, ", "))
	}

	for _, user := range splitList(*users) {
		certPEM, keyPEM, err := ca.IssueClient(user, certValidity)
		if err != nil {
			return fmt.Errorf("device certificate for %s: %w", user, err)
		}
		if err := certgen.WritePair(*dir, "client-"+user, certPEM, keyPEM); err != nil {
			return err
		}
		fmt.Fprintf(out, "device certificate for %s\n", user)
	}
	fmt.Fprintf(out, "certificates written to %s\n", *dir)
	return nil
}

func authority(dir, certPath, keyPath string, out io.Writer) (*certgen.Authority, error) {
	if certPath != "" || keyPath != "" {
		if certPath == "" || keyPath == "" {
			return nil, fmt.Errorf("-ca-cert and -ca-key must be set together")
		}
		return certgen.LoadAuthority(certPath, keyPath)
	}
	ca, err := certgen.NewAuthority("MISHURA CA", caValidity)
	if err != nil {
		return nil, err
	}
	keyPEM, err := ca.KeyPEM()
	if err != nil {
		return nil, err
	}
	if err := certgen.WritePair(dir, "ca", ca.CertPEM(), keyPEM); err != nil {
		return nil, err
	}
	fmt.Fprintln(out, "new CA")
	return ca, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
