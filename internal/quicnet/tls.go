package quicnet

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/caddyserver/certmagic"
)

// TLSOptions selects where the host's QUIC certificate comes from.
type TLSOptions struct {
	CertFile string
	KeyFile  string

	// Domain turns on ACME. HTTP-01 is the only challenge offered since the
	// host serves QUIC, not TCP :443.
	Domain string
	Email  string
	// StorageDir holds ACME accounts and certificates. Empty means the user
	// cache dir.
	StorageDir string
	// CA overrides the ACME directory, e.g. a staging endpoint.
	CA string
}

// ServerTLS builds the host's TLS config: certificate files when set, else
// an ACME certificate for Domain, else a throwaway self-signed pair. The
// handler is non-nil only for ACME and must be served on :80.
func ServerTLS(ctx context.Context, o TLSOptions) (*tls.Config, http.Handler, error) {
	var (
		c   *tls.Config
		h   http.Handler
		err error
	)
	switch {
	case o.CertFile != "" || o.KeyFile != "":
		c, err = LoadKeyPair(o.CertFile, o.KeyFile)
	case o.Domain != "":
		c, h, err = acmeTLS(ctx, o)
	default:
		c, err = SelfSignedTLS()
	}
	if err != nil {
		return nil, nil, err
	}
	ensureALPN(c)
	c.MinVersion = tls.VersionTLS13
	return c, h, nil
}

func acmeTLS(ctx context.Context, o TLSOptions) (*tls.Config, http.Handler, error) {
	dir := o.StorageDir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, nil, fmt.Errorf("acme storage: %w", err)
		}
		dir = filepath.Join(base, "upbridge", "certmagic")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("acme storage: %w", err)
	}
	cm := certmagic.NewDefault()
	cm.Storage = &certmagic.FileStorage{Path: dir}
	ca := o.CA
	if ca == "" {
		ca = certmagic.LetsEncryptProductionCA
	}
	issuer := certmagic.NewACMEIssuer(cm, certmagic.ACMEIssuer{
		CA:                      ca,
		Email:                   o.Email,
		Agreed:                  true,
		DisableTLSALPNChallenge: true,
	})
	cm.Issuers = []certmagic.Issuer{issuer}
	if err := cm.ManageSync(ctx, []string{o.Domain}); err != nil {
		return nil, nil, fmt.Errorf("acme %s: %w", o.Domain, err)
	}
	return cm.TLSConfig(), issuer.HTTPChallengeHandler(http.NotFoundHandler()), nil
}

// LoadKeyPair reads a PEM certificate and key, refusing certificates outside
// their validity window.
func LoadKeyPair(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, errors.New("tls: cert_file and key_file must be set together")
	}
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	now := time.Now()
	for i, der := range pair.Certificate {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("tls: certificate %d: %w", i, err)
		}
		switch {
		case now.Before(cert.NotBefore):
			return nil, fmt.Errorf("tls: %s not valid before %s", certFile, cert.NotBefore)
		case now.After(cert.NotAfter):
			return nil, fmt.Errorf("tls: %s expired on %s", certFile, cert.NotAfter)
		}
	}
	return &tls.Config{Certificates: []tls.Certificate{pair}}, nil
}

// SelfSignedTLS returns a one-day certificate for localhost. Clients must dial
// with insecure set.
func SelfSignedTLS() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "upbridge host"},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{alpn},
	}, nil
}

func ensureALPN(c *tls.Config) {
	for _, p := range c.NextProtos {
		if p == alpn {
			return
		}
	}
	c.NextProtos = append(c.NextProtos, alpn)
}
