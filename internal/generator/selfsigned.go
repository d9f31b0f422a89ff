package generator

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/edvin/certkeeper/internal/model"
)

// generateSelfSigned creates a fresh ECDSA keypair and a locally signed
// certificate for the domain, writes the artifacts into the self-signed tree,
// and registers them. It has no external dependency and can only fail on
// local I/O or permission errors.
func (g *Generator) generateSelfSigned(ctx context.Context, domain string) (*model.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: domain},
		DNSNames:              []string{domain},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.Add(g.selfSignedTerm),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	paths := g.layout.Paths(model.CertTypeSelfSigned, domain)
	if err := os.MkdirAll(g.layout.Dir(model.CertTypeSelfSigned, domain), 0o755); err != nil {
		return nil, fmt.Errorf("create certificate dir: %w", err)
	}

	if err := os.WriteFile(paths.Certificate, certPEM, 0o644); err != nil {
		return nil, fmt.Errorf("write certificate: %w", err)
	}
	if err := os.WriteFile(paths.PrivateKey, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	// Self-signed material has no issuer chain; the certificate doubles as
	// its fullchain so services can reference either path.
	if err := os.WriteFile(paths.FullChain, certPEM, 0o644); err != nil {
		return nil, fmt.Errorf("write fullchain: %w", err)
	}
	paths.Chain = ""

	return g.register(ctx, domain, model.CertTypeSelfSigned, paths)
}
