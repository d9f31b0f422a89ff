// Package store is the durable record of certificates, their on-disk
// artifacts, change events, and service bindings. It is the single source of
// truth; every multi-row write runs in one transaction, and the change
// notification is published atomically with the write that caused it.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/certkeeper/internal/model"
	"github.com/edvin/certkeeper/internal/notify"
	"github.com/edvin/certkeeper/internal/platform"
)

// ErrNotFound is returned when no row matches a lookup. For certificate
// selection this is a normal signal that generation is needed, not a fault.
var ErrNotFound = errors.New("not found")

// DB is the narrow database surface the store needs. *pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Store struct {
	db DB
}

func New(db DB) *Store {
	return &Store{db: db}
}

const certColumns = `id, domain, certificate_type, subject_alt_names, issuer,
	not_before, not_after, certificate_path, private_key_path, chain_path, fullchain_path,
	is_active, auto_renew, renewal_attempt_count, last_renewal_attempt, last_renewal_success,
	last_error, created_at, updated_at`

func scanCertificate(row pgx.Row) (*model.Certificate, error) {
	var c model.Certificate
	err := row.Scan(&c.ID, &c.Domain, &c.Type, &c.SubjectAltNames, &c.Issuer,
		&c.NotBefore, &c.NotAfter, &c.CertificatePath, &c.PrivateKeyPath, &c.ChainPath, &c.FullChainPath,
		&c.IsActive, &c.AutoRenew, &c.RenewalAttemptCount, &c.LastRenewalAttempt, &c.LastRenewalSuccess,
		&c.LastError, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Get returns a certificate by id.
func (s *Store) Get(ctx context.Context, id string) (*model.Certificate, error) {
	row := s.db.QueryRow(ctx, `SELECT `+certColumns+` FROM certificates WHERE id = $1`, id)
	cert, err := scanCertificate(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get certificate %s: %w", id, err)
	}
	return cert, nil
}

// GetActive returns the active certificate for a (domain, type) pair.
func (s *Store) GetActive(ctx context.Context, domain, certType string) (*model.Certificate, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+certColumns+` FROM certificates
		 WHERE domain = $1 AND certificate_type = $2 AND is_active`,
		domain, certType)
	cert, err := scanCertificate(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get active certificate %s/%s: %w", domain, certType, err)
	}
	return cert, nil
}

// ListByDomain returns all certificates tracked for a domain, active or not.
func (s *Store) ListByDomain(ctx context.Context, domain string) ([]model.Certificate, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE domain = $1 ORDER BY certificate_type, created_at`,
		domain)
	if err != nil {
		return nil, fmt.Errorf("list certificates for %s: %w", domain, err)
	}
	return collectCertificates(rows)
}

// ListActive returns every active certificate.
func (s *Store) ListActive(ctx context.Context) ([]model.Certificate, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE is_active ORDER BY domain, certificate_type`)
	if err != nil {
		return nil, fmt.Errorf("list active certificates: %w", err)
	}
	return collectCertificates(rows)
}

// ListExpiring returns active auto-renew certificates whose not_after falls
// within the given window from now.
func (s *Store) ListExpiring(ctx context.Context, within time.Duration) ([]model.Certificate, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+certColumns+` FROM certificates
		 WHERE is_active AND auto_renew AND not_after <= $1
		 ORDER BY not_after`,
		time.Now().Add(within))
	if err != nil {
		return nil, fmt.Errorf("list expiring certificates: %w", err)
	}
	return collectCertificates(rows)
}

func collectCertificates(rows pgx.Rows) ([]model.Certificate, error) {
	defer rows.Close()

	var certs []model.Certificate
	for rows.Next() {
		var c model.Certificate
		if err := rows.Scan(&c.ID, &c.Domain, &c.Type, &c.SubjectAltNames, &c.Issuer,
			&c.NotBefore, &c.NotAfter, &c.CertificatePath, &c.PrivateKeyPath, &c.ChainPath, &c.FullChainPath,
			&c.IsActive, &c.AutoRenew, &c.RenewalAttemptCount, &c.LastRenewalAttempt, &c.LastRenewalSuccess,
			&c.LastError, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		certs = append(certs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return certs, nil
}

// SaveIssued commits a freshly issued or renewed certificate: the certificate
// row is inserted (or updated in place when an active row for the same
// (domain, type) pair exists), its artifact snapshots replace the previous
// set, a change event row is written, and pg_notify fires on the same
// transaction. Either everything commits or nothing does.
func (s *Store) SaveIssued(ctx context.Context, cert *model.Certificate, files []model.CertificateFile) (*model.Certificate, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin save certificate: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	operation := model.OpCreated

	existing, err := scanCertificate(tx.QueryRow(ctx,
		`SELECT `+certColumns+` FROM certificates
		 WHERE domain = $1 AND certificate_type = $2 AND is_active
		 FOR UPDATE`,
		cert.Domain, cert.Type))
	switch {
	case err == nil:
		// Renewal: supersede in place, never insert a duplicate pair.
		operation = model.OpRenewed
		cert.ID = existing.ID
		cert.RenewalAttemptCount = existing.RenewalAttemptCount + 1
		_, err = tx.Exec(ctx,
			`UPDATE certificates SET
				subject_alt_names = $1, issuer = $2, not_before = $3, not_after = $4,
				certificate_path = $5, private_key_path = $6, chain_path = $7, fullchain_path = $8,
				renewal_attempt_count = $9, last_renewal_attempt = $10, last_renewal_success = $10,
				last_error = NULL, updated_at = $10
			 WHERE id = $11`,
			cert.SubjectAltNames, cert.Issuer, cert.NotBefore, cert.NotAfter,
			cert.CertificatePath, cert.PrivateKeyPath, cert.ChainPath, cert.FullChainPath,
			cert.RenewalAttemptCount, now, cert.ID)
		if err != nil {
			return nil, fmt.Errorf("update certificate %s: %w", cert.ID, err)
		}
	case errors.Is(err, ErrNotFound):
		if cert.ID == "" {
			cert.ID = platform.NewID()
		}
		cert.CreatedAt = now
		_, err = tx.Exec(ctx,
			`INSERT INTO certificates (id, domain, certificate_type, subject_alt_names, issuer,
				not_before, not_after, certificate_path, private_key_path, chain_path, fullchain_path,
				is_active, auto_renew, renewal_attempt_count, last_renewal_attempt, last_renewal_success,
				created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, true, $12, 0, $13, $13, $13, $13)`,
			cert.ID, cert.Domain, cert.Type, cert.SubjectAltNames, cert.Issuer,
			cert.NotBefore, cert.NotAfter, cert.CertificatePath, cert.PrivateKeyPath, cert.ChainPath, cert.FullChainPath,
			cert.AutoRenew, now)
		if err != nil {
			return nil, fmt.Errorf("insert certificate: %w", err)
		}
	default:
		return nil, fmt.Errorf("lookup existing certificate %s/%s: %w", cert.Domain, cert.Type, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM certificate_files WHERE certificate_id = $1`, cert.ID); err != nil {
		return nil, fmt.Errorf("clear artifact rows: %w", err)
	}
	for _, f := range files {
		f.CertificateID = cert.ID
		if f.ID == "" {
			f.ID = platform.NewID()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO certificate_files (id, certificate_id, kind, path, size_bytes, sha256, mode, needs_verification, verified_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)`,
			f.ID, f.CertificateID, f.Kind, f.Path, f.SizeBytes, f.SHA256, f.Mode, now)
		if err != nil {
			return nil, fmt.Errorf("insert artifact row %s: %w", f.Kind, err)
		}
	}

	if err := s.emitChange(ctx, tx, cert, operation, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit save certificate: %w", err)
	}

	cert.IsActive = true
	cert.UpdatedAt = now
	return cert, nil
}

// RecordRenewalFailure increments the attempt counter and stores the cause on
// the active (domain, type) row so failures are visible without tailing logs.
// Missing rows are ignored: a failed first issuance has nothing to record on.
func (s *Store) RecordRenewalFailure(ctx context.Context, domain, certType string, cause error) error {
	_, err := s.db.Exec(ctx,
		`UPDATE certificates SET
			renewal_attempt_count = renewal_attempt_count + 1,
			last_renewal_attempt = now(), last_error = $1, updated_at = now()
		 WHERE domain = $2 AND certificate_type = $3 AND is_active`,
		cause.Error(), domain, certType)
	if err != nil {
		return fmt.Errorf("record renewal failure %s/%s: %w", domain, certType, err)
	}
	return nil
}

// Deactivate retires the active certificate for a (domain, type) pair. The
// row is kept for audit; a deleted change event is published atomically.
func (s *Store) Deactivate(ctx context.Context, domain, certType string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin deactivate: %w", err)
	}
	defer tx.Rollback(ctx)

	cert, err := scanCertificate(tx.QueryRow(ctx,
		`UPDATE certificates SET is_active = false, updated_at = now()
		 WHERE domain = $1 AND certificate_type = $2 AND is_active
		 RETURNING `+certColumns,
		domain, certType))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("deactivate certificate %s/%s: %w", domain, certType, err)
	}

	if err := s.emitChange(ctx, tx, cert, model.OpDeleted, time.Now()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit deactivate: %w", err)
	}
	return nil
}

// emitChange writes the audit row and fires pg_notify inside the caller's
// transaction. NOTIFY is fire-and-forget: no subscriber can block or fail the
// write, and subscribers that miss it reconcile from the store.
func (s *Store) emitChange(ctx context.Context, tx pgx.Tx, cert *model.Certificate, operation string, at time.Time) error {
	event := notify.Event{
		Domain:        cert.Domain,
		Type:          cert.Type,
		Operation:     operation,
		CertificateID: cert.ID,
		OccurredAt:    at,
	}
	payload, err := event.Encode()
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO change_events (id, domain, certificate_type, operation, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		platform.NewID(), cert.Domain, cert.Type, operation, payload, at)
	if err != nil {
		return fmt.Errorf("insert change event: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notify.Channel, string(payload)); err != nil {
		return fmt.Errorf("notify change event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent change events for a domain, newest first.
func (s *Store) ListEvents(ctx context.Context, domain string, limit int) ([]model.ChangeEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, domain, certificate_type, operation, payload, created_at
		 FROM change_events WHERE domain = $1 ORDER BY created_at DESC LIMIT $2`,
		domain, limit)
	if err != nil {
		return nil, fmt.Errorf("list change events for %s: %w", domain, err)
	}
	defer rows.Close()

	var events []model.ChangeEvent
	for rows.Next() {
		var e model.ChangeEvent
		if err := rows.Scan(&e.ID, &e.Domain, &e.Type, &e.Operation, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan change event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change events: %w", err)
	}
	return events, nil
}
