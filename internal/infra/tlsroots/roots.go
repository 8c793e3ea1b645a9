package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrNoCertsFound is returned when a PEM file holds no certificate.
	ErrNoCertsFound = errors.New("tlsroots: no certificates found in PEM data")

	// ErrIncompletePair is returned when only one of cert and key is set.
	ErrIncompletePair = errors.New("tlsroots: client certificate and key must be set together")
)

// Pool is a set of trusted root certificates.
type Pool struct {
	certPool *x509.CertPool
}

// NewPool returns a pool seeded with the system roots, or an empty pool
// where the platform has none.
func NewPool() *Pool {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	return &Pool{certPool: pool}
}

// AddCertFile adds every certificate in a PEM file.
func (p *Pool) AddCertFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read CA file: %w", err)
	}
	if err := p.AddCertPEM(data); err != nil {
		return fmt.Errorf("%w (%s)", err, path)
	}
	return nil
}

// AddCertPEM adds every CERTIFICATE block of pemData. Other block types
// are skipped.
func (p *Pool) AddCertPEM(pemData []byte) error {
	added := 0
	for {
		var block *pem.Block
		block, pemData = pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		p.certPool.AddCert(cert)
		added++
	}
	if added == 0 {
		return ErrNoCertsFound
	}
	return nil
}

// Pool returns the underlying x509.CertPool.
func (p *Pool) Pool() *x509.CertPool {
	return p.certPool
}

// Options selects extra trust roots and a client certificate.
type Options struct {
	CAFile   string
	CertFile string
	KeyFile  string
}

// Empty reports whether no option is set.
func (o Options) Empty() bool {
	return o == Options{}
}

// ClientConfig builds the tls.Config for outgoing connections. The
// returned Watcher is nil without a client certificate; otherwise it has
// loaded the pair but is not started.
func ClientConfig(o Options, opts ...WatcherOption) (*tls.Config, *Watcher, error) {
	if (o.CertFile == "") != (o.KeyFile == "") {
		return nil, nil, ErrIncompletePair
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if o.CAFile != "" {
		pool := NewPool()
		if err := pool.AddCertFile(o.CAFile); err != nil {
			return nil, nil, err
		}
		cfg.RootCAs = pool.Pool()
	}

	var w *Watcher
	if o.CertFile != "" {
		var err error
		if w, err = NewWatcher(o.CertFile, o.KeyFile, opts...); err != nil {
			return nil, nil, err
		}
		cfg.GetClientCertificate = w.GetClientCertificate
	}
	return cfg, w, nil
}
