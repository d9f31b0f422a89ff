package model

import "time"

// Certificate is one tracked (domain, certificate_type) pair. Renewal updates
// the row in place; superseded material is never physically deleted, only
// deactivated.
type Certificate struct {
	ID                  string     `json:"id" db:"id"`
	Domain              string     `json:"domain" db:"domain"`
	Type                string     `json:"type" db:"certificate_type"`
	SubjectAltNames     []string   `json:"subject_alt_names,omitempty" db:"subject_alt_names"`
	Issuer              string     `json:"issuer,omitempty" db:"issuer"`
	NotBefore           time.Time  `json:"not_before" db:"not_before"`
	NotAfter            time.Time  `json:"not_after" db:"not_after"`
	CertificatePath     string     `json:"certificate_path" db:"certificate_path"`
	PrivateKeyPath      string     `json:"private_key_path" db:"private_key_path"`
	ChainPath           string     `json:"chain_path,omitempty" db:"chain_path"`
	FullChainPath       string     `json:"fullchain_path,omitempty" db:"fullchain_path"`
	IsActive            bool       `json:"is_active" db:"is_active"`
	AutoRenew           bool       `json:"auto_renew" db:"auto_renew"`
	RenewalAttemptCount int        `json:"renewal_attempt_count" db:"renewal_attempt_count"`
	LastRenewalAttempt  *time.Time `json:"last_renewal_attempt,omitempty" db:"last_renewal_attempt"`
	LastRenewalSuccess  *time.Time `json:"last_renewal_success,omitempty" db:"last_renewal_success"`
	LastError           *string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// Certificate type constants. Provenance is encoded both here and in the
// on-disk placement (live/, staged/, self-signed/); the two must agree.
const (
	CertTypeSelfSigned   = "self_signed"
	CertTypeLEStaging    = "letsencrypt_staging"
	CertTypeLEProduction = "letsencrypt_production"
	CertTypeManual       = "manual"
)

// CertTypes lists all valid certificate types.
var CertTypes = []string{
	CertTypeSelfSigned,
	CertTypeLEStaging,
	CertTypeLEProduction,
	CertTypeManual,
}

// ValidCertType reports whether t is a known certificate type.
func ValidCertType(t string) bool {
	for _, ct := range CertTypes {
		if ct == t {
			return true
		}
	}
	return false
}

// ExpiresWithin reports whether the certificate's not_after falls inside the
// given margin from now. Selection treats such certificates as absent.
func (c *Certificate) ExpiresWithin(now time.Time, margin time.Duration) bool {
	return !c.NotAfter.After(now.Add(margin))
}
