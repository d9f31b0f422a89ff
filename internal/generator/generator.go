// Package generator produces certificate material for a domain: locally
// signed (self-signed) or externally issued through an ACME-capable tool run
// as a subprocess. Successful runs verify the artifacts and register them in
// the store in a single transaction; a failed or cancelled run never leaves a
// partial record.
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certkeeper/internal/certfile"
	"github.com/edvin/certkeeper/internal/metrics"
	"github.com/edvin/certkeeper/internal/model"
	"github.com/edvin/certkeeper/internal/store"
)

// GenerationError wraps a failed generation attempt with the stage it failed in.
type GenerationError struct {
	Domain string
	Type   string
	Stage  string // "issue", "verify", or "store"
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s certificate for %s: %s: %v", e.Type, e.Domain, e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Result is the outcome of a generation request. Fallback marks a degraded
// but covered outcome: the ACME issuance failed with a known compatibility
// error and a self-signed certificate was produced instead.
type Result struct {
	Certificate *model.Certificate
	Fallback    bool
}

type certificateStore interface {
	GetActive(ctx context.Context, domain, certType string) (*model.Certificate, error)
	SaveIssued(ctx context.Context, cert *model.Certificate, files []model.CertificateFile) (*model.Certificate, error)
	RecordRenewalFailure(ctx context.Context, domain, certType string, cause error) error
}

type Generator struct {
	store  certificateStore
	layout Layout
	acme   *ACMERunner
	margin time.Duration
	logger zerolog.Logger

	// selfSignedTerm is the validity of locally signed certificates.
	selfSignedTerm time.Duration
}

func New(st certificateStore, layout Layout, acme *ACMERunner, margin time.Duration, logger zerolog.Logger) *Generator {
	return &Generator{
		store:          st,
		layout:         layout,
		acme:           acme,
		margin:         margin,
		logger:         logger,
		selfSignedTerm: 365 * 24 * time.Hour,
	}
}

// Generate produces and registers a certificate of the given type for domain.
// Generating again while the current certificate still satisfies the safety
// margin is a no-op returning the existing certificate.
func (g *Generator) Generate(ctx context.Context, domain, certType string) (*Result, error) {
	return g.generate(ctx, domain, certType, false)
}

// ForceGenerate issues fresh material even when the current certificate still
// satisfies the margin. Used by operator-driven rotation.
func (g *Generator) ForceGenerate(ctx context.Context, domain, certType string) (*Result, error) {
	return g.generate(ctx, domain, certType, true)
}

func (g *Generator) generate(ctx context.Context, domain, certType string, force bool) (*Result, error) {
	if !model.ValidCertType(certType) {
		return nil, fmt.Errorf("unknown certificate type %q", certType)
	}
	if certType == model.CertTypeManual {
		return nil, fmt.Errorf("manual certificates are uploaded, not generated")
	}

	// Defend against redundant calls: callers should check selection first,
	// but a still-valid certificate short-circuits here regardless.
	if !force {
		existing, err := g.store.GetActive(ctx, domain, certType)
		if err == nil && !existing.ExpiresWithin(time.Now(), g.margin) {
			g.logger.Debug().Str("domain", domain).Str("type", certType).
				Msg("certificate still satisfies margin, generation is a no-op")
			return &Result{Certificate: existing}, nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("check existing certificate: %w", err)
		}
	}

	g.logger.Info().Str("domain", domain).Str("type", certType).Msg("generation in progress")

	switch certType {
	case model.CertTypeSelfSigned:
		cert, err := g.generateSelfSigned(ctx, domain)
		if err != nil {
			return nil, g.fail(ctx, domain, certType, err)
		}
		metrics.GenerationsTotal.WithLabelValues(certType, "success").Inc()
		return &Result{Certificate: cert}, nil

	case model.CertTypeLEStaging, model.CertTypeLEProduction:
		cert, err := g.generateACME(ctx, domain, certType)
		if err == nil {
			metrics.GenerationsTotal.WithLabelValues(certType, "success").Inc()
			return &Result{Certificate: cert}, nil
		}

		// A known incompatibility class falls back to self-signed so the
		// domain is never left uncovered. Logged distinctly from a normal
		// failure: "degraded but covered" is not "uncovered".
		if IsKnownIncompatibility(err) {
			g.logger.Warn().Str("domain", domain).Str("type", certType).Err(err).
				Msg("ACME tool incompatibility, falling back to self-signed certificate")
			_ = g.store.RecordRenewalFailure(ctx, domain, certType, err)

			cert, fbErr := g.generateSelfSigned(ctx, domain)
			if fbErr != nil {
				return nil, g.fail(ctx, domain, model.CertTypeSelfSigned, fbErr)
			}
			metrics.GenerationsTotal.WithLabelValues(certType, "success").Inc()
			metrics.FallbacksTotal.Inc()
			return &Result{Certificate: cert, Fallback: true}, nil
		}

		return nil, g.fail(ctx, domain, certType, err)
	}

	return nil, fmt.Errorf("unreachable certificate type %q", certType)
}

// fail records the attempt in the store and returns the error, wrapping it in
// a GenerationError when it is not one already.
func (g *Generator) fail(ctx context.Context, domain, certType string, err error) error {
	metrics.GenerationsTotal.WithLabelValues(certType, "failure").Inc()
	if recErr := g.store.RecordRenewalFailure(ctx, domain, certType, err); recErr != nil {
		g.logger.Error().Err(recErr).Str("domain", domain).Msg("failed to record generation failure")
	}
	g.logger.Error().Str("domain", domain).Str("type", certType).Err(err).Msg("generation failed")

	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return err
	}
	return &GenerationError{Domain: domain, Type: certType, Stage: "issue", Err: err}
}

// register verifies the artifacts on disk, snapshots their checksums, and
// commits the certificate plus file rows in one store transaction. Nothing is
// written if any artifact check fails.
func (g *Generator) register(ctx context.Context, domain, certType string, paths ArtifactPaths) (*model.Certificate, error) {
	parsed, err := certfile.LoadCertificate(paths.Certificate)
	if err != nil {
		return nil, &GenerationError{Domain: domain, Type: certType, Stage: "verify", Err: err}
	}
	if !certfile.SubjectMatches(parsed, domain) {
		return nil, &GenerationError{Domain: domain, Type: certType, Stage: "verify",
			Err: fmt.Errorf("certificate subject %q does not cover %s", parsed.Subject.CommonName, domain)}
	}
	if err := certfile.KeyPairMatches(paths.Certificate, paths.PrivateKey); err != nil {
		return nil, &GenerationError{Domain: domain, Type: certType, Stage: "verify", Err: err}
	}

	var files []model.CertificateFile
	for kind, path := range paths.ByKind() {
		if path == "" {
			continue
		}
		snap, err := certfile.Snapshot("", kind, path)
		if err != nil {
			return nil, &GenerationError{Domain: domain, Type: certType, Stage: "verify", Err: err}
		}
		files = append(files, snap)
	}

	cert := &model.Certificate{
		Domain:          domain,
		Type:            certType,
		SubjectAltNames: parsed.DNSNames,
		Issuer:          parsed.Issuer.CommonName,
		NotBefore:       parsed.NotBefore,
		NotAfter:        parsed.NotAfter,
		CertificatePath: paths.Certificate,
		PrivateKeyPath:  paths.PrivateKey,
		ChainPath:       paths.Chain,
		FullChainPath:   paths.FullChain,
		AutoRenew:       certType != model.CertTypeManual,
	}

	saved, err := g.store.SaveIssued(ctx, cert, files)
	if err != nil {
		return nil, &GenerationError{Domain: domain, Type: certType, Stage: "store", Err: err}
	}

	g.logger.Info().Str("domain", domain).Str("type", certType).Str("cert_id", saved.ID).
		Time("not_after", saved.NotAfter).Msg("certificate issued")
	return saved, nil
}
