package lpr

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TLSProvider loads the gateway's client certificate, key and CA bundle and
// keeps them fresh: a filesystem watcher reloads the material when it
// changes, so rotated certificates are picked up by the next dial without a
// restart.
type TLSProvider struct {
	certPath string
	keyPath  string
	caPath   string

	mu   sync.RWMutex
	cert tls.Certificate
	cas  *x509.CertPool

	watcher *fsnotify.Watcher
	closed  chan struct{}
}

func NewTLSProvider(certPath, keyPath, caPath string) (*TLSProvider, error) {
	p := &TLSProvider{
		certPath: certPath,
		keyPath:  keyPath,
		caPath:   caPath,
		closed:   make(chan struct{}),
	}
	if err := p.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tls watcher: %w", err)
	}
	p.watcher = watcher

	// Watch the parent directories; certificate rotation typically swaps
	// files via rename, which drops a watch on the file itself.
	dirs := map[string]bool{}
	for _, f := range []string{certPath, keyPath, caPath} {
		dirs[filepath.Dir(f)] = true
	}
	for d := range dirs {
		if err := watcher.Add(d); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("tls watcher add %s: %w", d, err)
		}
	}
	go p.watch()
	return p, nil
}

func (p *TLSProvider) reload() error {
	cert, err := tls.LoadX509KeyPair(p.certPath, p.keyPath)
	if err != nil {
		return fmt.Errorf("load client keypair: %w", err)
	}
	caPEM, err := os.ReadFile(p.caPath)
	if err != nil {
		return fmt.Errorf("load ca bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return fmt.Errorf("ca bundle %s contains no certificates", p.caPath)
	}

	p.mu.Lock()
	p.cert = cert
	p.cas = pool
	p.mu.Unlock()
	return nil
}

func (p *TLSProvider) watch() {
	for {
		select {
		case <-p.closed:
			return
		case evt, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Clean(evt.Name)
			if name != filepath.Clean(p.certPath) && name != filepath.Clean(p.keyPath) && name != filepath.Clean(p.caPath) {
				continue
			}
			if err := p.reload(); err != nil {
				log.Printf("[ERROR] TLS reload after %s changed: %v", evt.Name, err)
				continue
			}
			log.Printf("[INFO] TLS material reloaded (%s changed)", evt.Name)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[ERROR] TLS watcher: %v", err)
		}
	}
}

// Config returns a TLS client config backed by the current material. The
// certificate callback reads the latest keypair, so configs handed out
// earlier still pick up rotations.
func (p *TLSProvider) Config() *tls.Config {
	p.mu.RLock()
	cas := p.cas
	p.mu.RUnlock()
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    cas,
		GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			p.mu.RLock()
			defer p.mu.RUnlock()
			cert := p.cert
			return &cert, nil
		},
	}
}

// DialContext opens a mutual-TLS connection to addr.
func (p *TLSProvider) DialContext(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config:    p.Config(),
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

func (p *TLSProvider) Close() {
	close(p.closed)
	if p.watcher != nil {
		p.watcher.Close()
	}
}
