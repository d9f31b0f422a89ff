package model

import "time"

// ServiceCertificateBinding records which certificate a running service is
// currently configured with for a domain. Updated only by the reloader after
// it has confirmed the new configuration is live. NotAfter captures the bound
// material's expiry: a renewal supersedes the certificate row in place
// (same id, fresh validity window), so the id alone cannot tell renewed
// material from what the service is still serving.
type ServiceCertificateBinding struct {
	ID            string    `json:"id" db:"id"`
	Service       string    `json:"service" db:"service"`
	Domain        string    `json:"domain" db:"domain"`
	CertificateID string    `json:"certificate_id" db:"certificate_id"`
	NotAfter      time.Time `json:"not_after" db:"not_after"`
	TLSEnabled    bool      `json:"tls_enabled" db:"tls_enabled"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Covers reports whether the binding already reflects the given certificate
// material. Both id and expiry must match; a differing not_after means the
// certificate was renewed in place and the service needs a reload.
func (b *ServiceCertificateBinding) Covers(cert *Certificate) bool {
	return b.CertificateID == cert.ID && b.NotAfter.Equal(cert.NotAfter)
}
