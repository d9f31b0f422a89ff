// Package certfile inspects on-disk certificate material: PEM parsing,
// subject matching, certificate/private-key pair checks, and checksum
// snapshots used for drift detection.
package certfile

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/edvin/certkeeper/internal/model"
	"github.com/edvin/certkeeper/internal/platform"
)

// LoadCertificate reads and parses the first PEM certificate block in path.
func LoadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate %s: %w", path, err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no PEM certificate block in %s", path)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate %s: %w", path, err)
	}
	return cert, nil
}

// SubjectMatches reports whether the certificate covers the domain, either by
// common name or a subject alternative name (wildcards included).
func SubjectMatches(cert *x509.Certificate, domain string) bool {
	return cert.VerifyHostname(domain) == nil
}

// KeyPairMatches verifies the certificate at certPath and the private key at
// keyPath belong together by comparing public keys. It catches mismatched or
// half-written material before any live config is touched.
func KeyPairMatches(certPath, keyPath string) error {
	cert, err := LoadCertificate(certPath)
	if err != nil {
		return err
	}

	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("read private key %s: %w", keyPath, err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return fmt.Errorf("no PEM block in private key %s", keyPath)
	}

	key, err := ParsePrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("parse private key %s: %w", keyPath, err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return fmt.Errorf("private key %s does not expose a public key", keyPath)
	}

	type equaler interface {
		Equal(x crypto.PublicKey) bool
	}
	pub, ok := cert.PublicKey.(equaler)
	if !ok {
		return fmt.Errorf("unsupported certificate public key type %T", cert.PublicKey)
	}
	if !pub.Equal(signer.Public()) {
		return fmt.Errorf("certificate %s and private key %s do not match", certPath, keyPath)
	}

	return nil
}

// ParsePrivateKey tries to parse a private key in PKCS8, PKCS1, or EC formats.
func ParsePrivateKey(der []byte) (any, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		switch key.(type) {
		case *rsa.PrivateKey, *ecdsa.PrivateKey, ed25519.PrivateKey:
			return key, nil
		default:
			return nil, fmt.Errorf("unsupported private key type in PKCS8")
		}
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("failed to parse private key")
}

// Snapshot captures path, size, checksum, and permission bits of an artifact
// for the certificate_files table.
func Snapshot(certificateID, kind, path string) (model.CertificateFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.CertificateFile{}, fmt.Errorf("stat artifact %s: %w", path, err)
	}

	sum, err := checksum(path)
	if err != nil {
		return model.CertificateFile{}, err
	}

	return model.CertificateFile{
		ID:            platform.NewID(),
		CertificateID: certificateID,
		Kind:          kind,
		Path:          path,
		SizeBytes:     info.Size(),
		SHA256:        sum,
		Mode:          uint32(info.Mode().Perm()),
	}, nil
}

// Verify recomputes the artifact checksum and compares it against the stored
// value. A false result means the on-disk file has drifted from the store's
// belief.
func Verify(file model.CertificateFile) (bool, error) {
	sum, err := checksum(file.Path)
	if err != nil {
		return false, err
	}
	return sum == file.SHA256, nil
}

func checksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read artifact %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
