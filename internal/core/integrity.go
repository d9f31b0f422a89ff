package core

import (
	"context"

	"github.com/edvin/certkeeper/internal/certfile"
	"github.com/edvin/certkeeper/internal/model"
)

type fileStore interface {
	ListActive(ctx context.Context) ([]model.Certificate, error)
	ListFiles(ctx context.Context, certificateID string) ([]model.CertificateFile, error)
	MarkFileVerification(ctx context.Context, fileID string, matches bool) error
}

// IntegrityService checks on-disk artifacts against their recorded checksums.
// Drift marks the artifact needs_verification for operators; it is never
// auto-repaired.
type IntegrityService struct {
	store fileStore
}

func NewIntegrityService(store fileStore) *IntegrityService {
	return &IntegrityService{store: store}
}

// DriftReport is one artifact whose on-disk state no longer matches the store.
type DriftReport struct {
	CertificateID string `json:"certificate_id"`
	Kind          string `json:"kind"`
	Path          string `json:"path"`
	Reason        string `json:"reason"`
}

// VerifyAll re-checksums every artifact of every active certificate and
// returns the artifacts that drifted. Verification results are persisted
// either way.
func (s *IntegrityService) VerifyAll(ctx context.Context) ([]DriftReport, error) {
	certs, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var drifted []DriftReport
	for _, cert := range certs {
		files, err := s.store.ListFiles(ctx, cert.ID)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			matches, err := certfile.Verify(f)
			reason := ""
			if err != nil {
				matches = false
				reason = err.Error()
			} else if !matches {
				reason = "checksum mismatch"
			}

			if markErr := s.store.MarkFileVerification(ctx, f.ID, matches); markErr != nil {
				return nil, markErr
			}
			if !matches {
				drifted = append(drifted, DriftReport{
					CertificateID: cert.ID,
					Kind:          f.Kind,
					Path:          f.Path,
					Reason:        reason,
				})
			}
		}
	}
	return drifted, nil
}
