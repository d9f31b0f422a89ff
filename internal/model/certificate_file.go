package model

import "time"

// CertificateFile is one physical artifact belonging to a Certificate. The
// recorded checksum is compared against the on-disk file to detect drift; a
// mismatch marks the row needs_verification and is surfaced to operators,
// never silently trusted.
type CertificateFile struct {
	ID                string     `json:"id" db:"id"`
	CertificateID     string     `json:"certificate_id" db:"certificate_id"`
	Kind              string     `json:"kind" db:"kind"`
	Path              string     `json:"path" db:"path"`
	SizeBytes         int64      `json:"size_bytes" db:"size_bytes"`
	SHA256            string     `json:"sha256" db:"sha256"`
	Mode              uint32     `json:"mode" db:"mode"`
	NeedsVerification bool       `json:"needs_verification" db:"needs_verification"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty" db:"verified_at"`
}

// Artifact kind constants.
const (
	FileKindCertificate = "certificate"
	FileKindPrivateKey  = "private_key"
	FileKindChain       = "chain"
	FileKindFullChain   = "fullchain"
)
