package reloader

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/edvin/certkeeper/internal/certfile"
	"github.com/edvin/certkeeper/internal/model"
	"github.com/edvin/certkeeper/internal/store"
)

// ReloadError describes a failed reload step. LiveImpact distinguishes the
// safe case (nothing applied, old certificate still in effect) from the
// dangerous one: a failure at or after the reload step may leave the service
// partially reloaded and must surface at high severity.
type ReloadError struct {
	Service    string
	Domain     string
	Step       string
	LiveImpact bool
	Err        error
}

func (e *ReloadError) Error() string {
	impact := "no live impact"
	if e.LiveImpact {
		impact = "service may be degraded"
	}
	return fmt.Sprintf("reload %s for %s failed at %s (%s): %v", e.Service, e.Domain, e.Step, impact, e.Err)
}

func (e *ReloadError) Unwrap() error { return e.Err }

type bindingStore interface {
	GetBinding(ctx context.Context, service, domain string) (*model.ServiceCertificateBinding, error)
	UpsertBinding(ctx context.Context, b *model.ServiceCertificateBinding) error
}

type Reloader struct {
	store  bindingStore
	logger zerolog.Logger
}

func New(st bindingStore, logger zerolog.Logger) *Reloader {
	return &Reloader{store: st, logger: logger}
}

// Reload applies the certificate to the service. Each step gates the next:
//
//  1. artifact presence + certificate/key pair check
//  2. render config referencing the new paths
//  3. validate with the service's own config checker (never reload blind)
//  4. reload, not restart, so existing connections survive
//  5. confirm the ports still accept connections
//  6. record the binding
//
// Reloading material that is already bound is a safe no-op. A renewal keeps
// the certificate id and paths but changes the validity window, so the guard
// compares id and not_after, never the id alone.
func (r *Reloader) Reload(ctx context.Context, svc ManagedService, domain string, cert *model.Certificate) error {
	current, err := r.store.GetBinding(ctx, svc.Name(), domain)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("read current binding: %w", err)
	}
	if current != nil && current.Covers(cert) {
		r.logger.Debug().Str("service", svc.Name()).Str("domain", domain).
			Str("cert_id", cert.ID).Msg("certificate already bound, reload is a no-op")
		return nil
	}

	if err := r.checkArtifacts(cert); err != nil {
		return &ReloadError{Service: svc.Name(), Domain: domain, Step: "artifact-check", Err: err}
	}

	if err := svc.Render(ctx, domain, cert); err != nil {
		return &ReloadError{Service: svc.Name(), Domain: domain, Step: "render", Err: err}
	}

	if err := svc.Validate(ctx); err != nil {
		return &ReloadError{Service: svc.Name(), Domain: domain, Step: "validate", Err: err}
	}

	if err := svc.Reload(ctx); err != nil {
		err = &ReloadError{Service: svc.Name(), Domain: domain, Step: "reload", LiveImpact: true, Err: err}
		r.logger.Error().Err(err).Msg("reload command failed after validated config was applied")
		return err
	}

	if err := svc.Probe(ctx); err != nil {
		err = &ReloadError{Service: svc.Name(), Domain: domain, Step: "probe", LiveImpact: true, Err: err}
		r.logger.Error().Err(err).Msg("service failed liveness probe after reload")
		return err
	}

	binding := &model.ServiceCertificateBinding{
		Service:       svc.Name(),
		Domain:        domain,
		CertificateID: cert.ID,
		NotAfter:      cert.NotAfter,
		TLSEnabled:    svc.TLSEnabled(),
	}
	if err := r.store.UpsertBinding(ctx, binding); err != nil {
		return &ReloadError{Service: svc.Name(), Domain: domain, Step: "binding", LiveImpact: true, Err: err}
	}

	r.logger.Info().Str("service", svc.Name()).Str("domain", domain).
		Str("cert_id", cert.ID).Msg("service reloaded with new certificate")
	return nil
}

// checkArtifacts verifies the referenced files are present and the
// certificate matches its private key before any live config is touched.
func (r *Reloader) checkArtifacts(cert *model.Certificate) error {
	for _, path := range []string{cert.CertificatePath, cert.PrivateKeyPath} {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("artifact missing: %w", err)
		}
	}
	return certfile.KeyPairMatches(cert.CertificatePath, cert.PrivateKeyPath)
}
