// Package selector picks the best available certificate for a domain. It is
// a pure read against the store: no side effects, no generation.
package selector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edvin/certkeeper/internal/model"
	"github.com/edvin/certkeeper/internal/store"
)

// ErrNotFound signals that no usable certificate exists for the request.
// This is a normal condition meaning generation is needed.
var ErrNotFound = errors.New("no usable certificate")

// PreferenceOrder is the fixed total order applied when no explicit type
// preference is given: live production ACME beats staging beats self-signed.
// Manually uploaded certificates are only returned on explicit request.
var PreferenceOrder = []string{
	model.CertTypeLEProduction,
	model.CertTypeLEStaging,
	model.CertTypeSelfSigned,
}

type certificateReader interface {
	GetActive(ctx context.Context, domain, certType string) (*model.Certificate, error)
}

type Selector struct {
	store  certificateReader
	margin time.Duration
}

// New creates a selector with the given safety margin. Certificates expiring
// within the margin are treated as absent.
func New(store certificateReader, margin time.Duration) *Selector {
	return &Selector{store: store, margin: margin}
}

// Select returns the best active, non-expiring certificate for the domain.
// With a preferred type it returns exactly that type or ErrNotFound, never a
// silent substitute; the caller decides whether to fall back. Without a
// preference the fixed order is applied and the first usable candidate wins.
func (s *Selector) Select(ctx context.Context, domain, preferredType string) (*model.Certificate, error) {
	if preferredType != "" {
		if !model.ValidCertType(preferredType) {
			return nil, fmt.Errorf("unknown certificate type %q", preferredType)
		}
		return s.usable(ctx, domain, preferredType)
	}

	for _, certType := range PreferenceOrder {
		cert, err := s.usable(ctx, domain, certType)
		if err == nil {
			return cert, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (s *Selector) usable(ctx context.Context, domain, certType string) (*model.Certificate, error) {
	cert, err := s.store.GetActive(ctx, domain, certType)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select %s/%s: %w", domain, certType, err)
	}

	// Expired or expiring within the margin is identical to absent: it does
	// not block generation, it just is not chosen.
	if cert.ExpiresWithin(time.Now(), s.margin) {
		return nil, ErrNotFound
	}
	return cert, nil
}
