// Package tlsutil serves TLS certificates that are reloaded when their
// files change on disk.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// rotationSettle is how long to wait after a rename or remove before the
// replacement file is expected to exist.
const rotationSettle = 100 * time.Millisecond

// ReloadFunc is called after every reload attempt triggered by a file
// event. err is nil when the new key pair was installed.
type ReloadFunc func(err error)

// CertificateLoader holds the current key pair for a listener and swaps
// it when the watched files change. The previous pair keeps serving when a
// reload fails.
type CertificateLoader struct {
	certPath string
	keyPath  string
	cert     atomic.Pointer[tls.Certificate]
	watcher  *fsnotify.Watcher
	done     chan struct{}
	once     sync.Once

	mu       sync.Mutex
	onReload ReloadFunc
}

// NewCertificateLoader loads the key pair and starts watching both files.
func NewCertificateLoader(certPath, keyPath string) (*CertificateLoader, error) {
	cl := &CertificateLoader{
		certPath: certPath,
		keyPath:  keyPath,
		done:     make(chan struct{}),
	}

	if err := cl.load(); err != nil {
		return nil, fmt.Errorf("initial certificate load: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	for _, path := range []string{certPath, keyPath} {
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", path, err)
		}
	}
	cl.watcher = watcher

	go cl.watchLoop()

	return cl, nil
}

// OnReload registers fn to observe reload outcomes.
func (cl *CertificateLoader) OnReload(fn ReloadFunc) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.onReload = fn
}

func (cl *CertificateLoader) load() error {
	cert, err := tls.LoadX509KeyPair(cl.certPath, cl.keyPath)
	if err != nil {
		return err
	}
	cl.cert.Store(&cert)
	return nil
}

// reload installs the key pair from disk and reports the outcome.
func (cl *CertificateLoader) reload(trigger string) {
	err := cl.load()
	if err != nil {
		// Cert and key are often written separately; the next event retries.
		slog.Warn("certificate reload failed", "file", trigger, "error", err)
	} else {
		slog.Info("certificate reloaded", "file", trigger)
	}

	cl.mu.Lock()
	hook := cl.onReload
	cl.mu.Unlock()
	if hook != nil {
		hook(err)
	}
}

func (cl *CertificateLoader) handleEvent(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		cl.reload(event.Name)
	case event.Has(fsnotify.Rename), event.Has(fsnotify.Remove):
		// Atomic rotation replaces the inode, which drops the watch.
		cl.watcher.Remove(event.Name)
		time.Sleep(rotationSettle)
		if err := cl.watcher.Add(event.Name); err != nil {
			slog.Warn("failed to re-watch certificate file after rotation",
				"file", event.Name, "error", err)
		}
		cl.reload(event.Name)
	}
}

func (cl *CertificateLoader) watchLoop() {
	for {
		select {
		case event, ok := <-cl.watcher.Events:
			if !ok {
				return
			}
			cl.handleEvent(event)
		case err, ok := <-cl.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("certificate watcher error", "error", err)
		case <-cl.done:
			return
		}
	}
}

// GetCertificate returns the current certificate. Suitable for use as
// tls.Config.GetCertificate callback.
func (cl *CertificateLoader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return cl.cert.Load(), nil
}

// Close stops the file watcher.
func (cl *CertificateLoader) Close() error {
	var err error
	cl.once.Do(func() {
		close(cl.done)
		err = cl.watcher.Close()
	})
	return err
}

// LoadCAPool reads a PEM bundle and returns a CertPool.
func LoadCAPool(caPath string) (*x509.CertPool, error) {
	pemData, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("no certificates found in %s", caPath)
	}
	return pool, nil
}

// NewServerTLSConfig creates a server TLS configuration backed by
// certLoader. A non-nil clientCAs turns on mutual TLS.
func NewServerTLSConfig(certLoader *CertificateLoader, clientCAs *x509.CertPool) *tls.Config {
	cfg := &tls.Config{
		GetCertificate: certLoader.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
	if clientCAs != nil {
		cfg.ClientCAs = clientCAs
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg
}
