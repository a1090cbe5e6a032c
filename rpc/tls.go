package rpc

import (
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pilosa/erpdk"
	"github.com/pkg/errors"
)

// TLSConfig describes how to secure the connection to the resolution engine.
type TLSConfig struct {
	// CertificatePath contains the path to the client certificate (.crt or .pem file)
	CertificatePath string `json:"certificate" help:"Path to client certificate file."`
	// CertificateKeyPath contains the path to the certificate key (.key file)
	CertificateKeyPath string `json:"key" help:"Path to client certificate key file."`
	// CACertPath is the path to a CA certificate (.crt or .pem file)
	CACertPath string `json:"ca-certificate" help:"Path to CA certificate file."`
	// ServerName overrides the name the engine's certificate is checked against.
	ServerName string `json:"server-name" help:"Server name to verify the engine certificate against."`
	// SkipVerify disables verification of server certificates.
	SkipVerify bool `json:"skip-verify" help:"Disables verification of server certificates."`
}

// Enabled reports whether any TLS setting was given.
func (c TLSConfig) Enabled() bool {
	return c.CertificatePath != "" || c.CACertPath != "" || c.ServerName != "" || c.SkipVerify
}

type keypairReloader struct {
	certMu   sync.RWMutex
	cert     *tls.Certificate
	certPath string
	keyPath  string
}

// newKeypairReloader loads a key pair and reloads it whenever the process
// receives SIGHUP.
func newKeypairReloader(certPath, keyPath string, log erpdk.Logger) (*keypairReloader, error) {
	result := &keypairReloader{
		certPath: certPath,
		keyPath:  keyPath,
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	result.cert = &cert
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGHUP)
		for range c {
			log.Printf("Received SIGHUP, reloading TLS certificate and key from %q and %q", certPath, keyPath)
			if err := result.maybeReload(); err != nil {
				log.Printf("Keeping old TLS certificate because the new one could not be loaded: %v", err)
			}
		}
	}()
	return result, nil
}

func (kpr *keypairReloader) maybeReload() error {
	newCert, err := tls.LoadX509KeyPair(kpr.certPath, kpr.keyPath)
	if err != nil {
		return err
	}
	kpr.certMu.Lock()
	defer kpr.certMu.Unlock()
	kpr.cert = &newCert
	return nil
}

func (kpr *keypairReloader) getClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	kpr.certMu.RLock()
	defer kpr.certMu.RUnlock()
	return kpr.cert, nil
}

// GetTLSConfig builds a client tls.Config from cfg. It returns nil if cfg
// does not enable TLS.
func GetTLSConfig(cfg *TLSConfig, log erpdk.Logger) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled() {
		return nil, nil
	}
	if log == nil {
		log = erpdk.NopLogger{}
	}
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.SkipVerify,
		ServerName:         cfg.ServerName,
		MinVersion:         tls.VersionTLS12,
	}
	if cfg.CertificatePath != "" {
		if cfg.CertificateKeyPath == "" {
			return nil, errors.New("certificate given without certificate key")
		}
		kpr, err := newKeypairReloader(cfg.CertificatePath, cfg.CertificateKeyPath, log)
		if err != nil {
			return nil, errors.Wrap(err, "loading keypair")
		}
		tlsConfig.GetClientCertificate = kpr.getClientCertificate
	}
	if cfg.CACertPath != "" {
		b, err := ioutil.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, errors.Wrap(err, "loading tls ca key")
		}
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM(b); !ok {
			return nil, errors.New("error parsing CA certificate")
		}
		tlsConfig.RootCAs = certPool
	}
	return tlsConfig, nil
}
