package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edvin/certkeeper/internal/generator"
	"github.com/edvin/certkeeper/internal/model"
	"github.com/edvin/certkeeper/internal/selector"
)

// CertificateStore is the store surface the operator service layer consumes.
type CertificateStore interface {
	Get(ctx context.Context, id string) (*model.Certificate, error)
	GetActive(ctx context.Context, domain, certType string) (*model.Certificate, error)
	ListByDomain(ctx context.Context, domain string) ([]model.Certificate, error)
	ListActive(ctx context.Context) ([]model.Certificate, error)
	ListExpiring(ctx context.Context, within time.Duration) ([]model.Certificate, error)
	ListBindings(ctx context.Context, domain string) ([]model.ServiceCertificateBinding, error)
	ListEvents(ctx context.Context, domain string, limit int) ([]model.ChangeEvent, error)
	Deactivate(ctx context.Context, domain, certType string) error
}

// CertificateGenerator matches the generator's operator-facing surface.
type CertificateGenerator interface {
	Generate(ctx context.Context, domain, certType string) (*generator.Result, error)
	ForceGenerate(ctx context.Context, domain, certType string) (*generator.Result, error)
	RegisterManual(ctx context.Context, domain string, certPEM, keyPEM, chainPEM []byte) (*model.Certificate, error)
}

type CertificateSelector interface {
	Select(ctx context.Context, domain, preferredType string) (*model.Certificate, error)
}

// CertificateService is the operator-facing service layer shared by the HTTP
// API and certctl. All operations are thin callers of the store, selector,
// and generator contracts.
type CertificateService struct {
	store     CertificateStore
	selector  CertificateSelector
	generator CertificateGenerator
	margin    time.Duration
}

func NewCertificateService(store CertificateStore, sel CertificateSelector, gen CertificateGenerator, margin time.Duration) *CertificateService {
	return &CertificateService{store: store, selector: sel, generator: gen, margin: margin}
}

// ListByDomain returns every tracked certificate for a domain.
func (s *CertificateService) ListByDomain(ctx context.Context, domain string) ([]model.Certificate, error) {
	return s.store.ListByDomain(ctx, domain)
}

// Get returns a certificate by id.
func (s *CertificateService) Get(ctx context.Context, id string) (*model.Certificate, error) {
	return s.store.Get(ctx, id)
}

// ListExpiring returns active certificates inside the renewal margin.
func (s *CertificateService) ListExpiring(ctx context.Context) ([]model.Certificate, error) {
	return s.store.ListExpiring(ctx, s.margin)
}

// Rotate generates a certificate of the requested type for the domain,
// honoring the generator's idempotence guard.
func (s *CertificateService) Rotate(ctx context.Context, domain, certType string) (*generator.Result, error) {
	return s.generator.Generate(ctx, domain, certType)
}

// ForceRenew issues fresh material regardless of the current certificate's
// remaining validity.
func (s *CertificateService) ForceRenew(ctx context.Context, domain, certType string) (*generator.Result, error) {
	return s.generator.ForceGenerate(ctx, domain, certType)
}

// UploadManual registers operator-supplied certificate material for a domain.
func (s *CertificateService) UploadManual(ctx context.Context, domain string, certPEM, keyPEM, chainPEM []byte) (*model.Certificate, error) {
	return s.generator.RegisterManual(ctx, domain, certPEM, keyPEM, chainPEM)
}

// Deactivate retires the active certificate for a (domain, type) pair.
func (s *CertificateService) Deactivate(ctx context.Context, domain, certType string) error {
	return s.store.Deactivate(ctx, domain, certType)
}

// Events returns the most recent change events for a domain.
func (s *CertificateService) Events(ctx context.Context, domain string, limit int) ([]model.ChangeEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListEvents(ctx, domain, limit)
}

// BindingStatus reports whether one service's binding agrees with what
// selection currently yields for the domain.
type BindingStatus struct {
	Service       string    `json:"service"`
	CertificateID string    `json:"certificate_id"`
	TLSEnabled    bool      `json:"tls_enabled"`
	InSync        bool      `json:"in_sync"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DomainStatus answers the operator question for one domain: which
// certificate is selected, when it expires, how the last renewal went, and
// whether any service binding is out of sync with current selection.
type DomainStatus struct {
	Domain              string              `json:"domain"`
	Selected            *model.Certificate  `json:"selected,omitempty"`
	ExpiresWithinMargin bool                `json:"expires_within_margin"`
	LastRenewalSuccess  *time.Time          `json:"last_renewal_success,omitempty"`
	LastError           *string             `json:"last_error,omitempty"`
	Certificates        []model.Certificate `json:"certificates"`
	Bindings            []BindingStatus     `json:"bindings"`
}

// Status builds the per-domain operator status view.
func (s *CertificateService) Status(ctx context.Context, domain string) (*DomainStatus, error) {
	certs, err := s.store.ListByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("domain %s: %w", domain, ErrUnknownDomain)
	}

	status := &DomainStatus{Domain: domain, Certificates: certs}

	selected, err := s.selector.Select(ctx, domain, "")
	switch {
	case err == nil:
		status.Selected = selected
		status.LastRenewalSuccess = selected.LastRenewalSuccess
		status.LastError = selected.LastError
	case errors.Is(err, selector.ErrNotFound):
		// No usable certificate; expiry state below still reports why.
	default:
		return nil, err
	}

	for _, c := range certs {
		if c.IsActive && c.ExpiresWithin(time.Now(), s.margin) {
			status.ExpiresWithinMargin = true
			break
		}
	}

	bindings, err := s.store.ListBindings(ctx, domain)
	if err != nil {
		return nil, err
	}
	for _, b := range bindings {
		inSync := status.Selected != nil && b.Covers(status.Selected)
		status.Bindings = append(status.Bindings, BindingStatus{
			Service:       b.Service,
			CertificateID: b.CertificateID,
			TLSEnabled:    b.TLSEnabled,
			InSync:        inSync,
			UpdatedAt:     b.UpdatedAt,
		})
	}

	return status, nil
}

// StatusAll builds the status view for every domain with an active certificate.
func (s *CertificateService) StatusAll(ctx context.Context) ([]DomainStatus, error) {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var statuses []DomainStatus
	for _, cert := range active {
		if seen[cert.Domain] {
			continue
		}
		seen[cert.Domain] = true

		status, err := s.Status(ctx, cert.Domain)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *status)
	}
	return statuses, nil
}

// ErrUnknownDomain is returned by Status for a domain with no tracked
// certificates at all.
var ErrUnknownDomain = errors.New("no certificates tracked")
