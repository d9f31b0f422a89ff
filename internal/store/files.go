package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/certkeeper/internal/model"
	"github.com/edvin/certkeeper/internal/platform"
)

// ListFiles returns the artifact rows belonging to a certificate.
func (s *Store) ListFiles(ctx context.Context, certificateID string) ([]model.CertificateFile, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, certificate_id, kind, path, size_bytes, sha256, mode, needs_verification, verified_at
		 FROM certificate_files WHERE certificate_id = $1 ORDER BY kind`,
		certificateID)
	if err != nil {
		return nil, fmt.Errorf("list artifact rows for %s: %w", certificateID, err)
	}
	defer rows.Close()

	var files []model.CertificateFile
	for rows.Next() {
		var f model.CertificateFile
		if err := rows.Scan(&f.ID, &f.CertificateID, &f.Kind, &f.Path, &f.SizeBytes, &f.SHA256,
			&f.Mode, &f.NeedsVerification, &f.VerifiedAt); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifact rows: %w", err)
	}
	return files, nil
}

// MarkFileVerification records the outcome of a drift check. A mismatch flags
// the row needs_verification for operators; it is never auto-repaired.
func (s *Store) MarkFileVerification(ctx context.Context, fileID string, matches bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE certificate_files SET needs_verification = $1, verified_at = $2 WHERE id = $3`,
		!matches, time.Now(), fileID)
	if err != nil {
		return fmt.Errorf("mark artifact verification %s: %w", fileID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBinding returns the binding for a (service, domain) pair.
func (s *Store) GetBinding(ctx context.Context, service, domain string) (*model.ServiceCertificateBinding, error) {
	var b model.ServiceCertificateBinding
	err := s.db.QueryRow(ctx,
		`SELECT id, service, domain, certificate_id, not_after, tls_enabled, updated_at
		 FROM service_certificate_bindings WHERE service = $1 AND domain = $2`,
		service, domain).Scan(&b.ID, &b.Service, &b.Domain, &b.CertificateID, &b.NotAfter, &b.TLSEnabled, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get binding %s/%s: %w", service, domain, err)
	}
	return &b, nil
}

// ListBindings returns every binding for a domain.
func (s *Store) ListBindings(ctx context.Context, domain string) ([]model.ServiceCertificateBinding, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, service, domain, certificate_id, not_after, tls_enabled, updated_at
		 FROM service_certificate_bindings WHERE domain = $1 ORDER BY service`,
		domain)
	if err != nil {
		return nil, fmt.Errorf("list bindings for %s: %w", domain, err)
	}
	defer rows.Close()

	var bindings []model.ServiceCertificateBinding
	for rows.Next() {
		var b model.ServiceCertificateBinding
		if err := rows.Scan(&b.ID, &b.Service, &b.Domain, &b.CertificateID, &b.NotAfter, &b.TLSEnabled, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bindings: %w", err)
	}
	return bindings, nil
}

// UpsertBinding records which certificate a service is confirmed to be
// serving for a domain. Called by the reloader only after post-reload
// liveness has been verified.
func (s *Store) UpsertBinding(ctx context.Context, b *model.ServiceCertificateBinding) error {
	if b.ID == "" {
		b.ID = platform.NewID()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO service_certificate_bindings (id, service, domain, certificate_id, not_after, tls_enabled, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (service, domain) DO UPDATE
		 SET certificate_id = EXCLUDED.certificate_id, not_after = EXCLUDED.not_after,
		     tls_enabled = EXCLUDED.tls_enabled, updated_at = now()`,
		b.ID, b.Service, b.Domain, b.CertificateID, b.NotAfter, b.TLSEnabled)
	if err != nil {
		return fmt.Errorf("upsert binding %s/%s: %w", b.Service, b.Domain, err)
	}
	return nil
}
