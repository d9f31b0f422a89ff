package generator

import (
	"path/filepath"

	"github.com/edvin/certkeeper/internal/model"
)

// Layout is the fixed directory convention separating certificate material by
// provenance. Placement and the certificate_type column must always agree, so
// no component ever needs to inspect certificate content to know where a
// certificate came from.
type Layout struct {
	Root string
}

func typeDir(certType string) string {
	switch certType {
	case model.CertTypeLEProduction:
		return "live"
	case model.CertTypeLEStaging:
		return "staged"
	case model.CertTypeSelfSigned:
		return "self-signed"
	default:
		return "manual"
	}
}

// Dir returns the directory holding a domain's material of the given type.
func (l Layout) Dir(certType, domain string) string {
	return filepath.Join(l.Root, typeDir(certType), domain)
}

// ArtifactPaths locates the four artifacts of one issued certificate.
type ArtifactPaths struct {
	Certificate string
	PrivateKey  string
	Chain       string
	FullChain   string
}

// Paths returns the conventional artifact locations for a (type, domain) pair.
func (l Layout) Paths(certType, domain string) ArtifactPaths {
	dir := l.Dir(certType, domain)
	return ArtifactPaths{
		Certificate: filepath.Join(dir, "cert.pem"),
		PrivateKey:  filepath.Join(dir, "privkey.pem"),
		Chain:       filepath.Join(dir, "chain.pem"),
		FullChain:   filepath.Join(dir, "fullchain.pem"),
	}
}

// ByKind maps artifact kinds to paths, skipping nothing; empty paths are
// filtered by callers.
func (p ArtifactPaths) ByKind() map[string]string {
	return map[string]string{
		model.FileKindCertificate: p.Certificate,
		model.FileKindPrivateKey:  p.PrivateKey,
		model.FileKindChain:       p.Chain,
		model.FileKindFullChain:   p.FullChain,
	}
}
