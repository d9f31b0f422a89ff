package selector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/edvin/certkeeper/internal/model"
	"github.com/edvin/certkeeper/internal/store"
)

// fakeReader serves active certificates from a map keyed by type.
type fakeReader struct {
	certs map[string]*model.Certificate
	err   error
}

func (f *fakeReader) GetActive(_ context.Context, _, certType string) (*model.Certificate, error) {
	if f.err != nil {
		return nil, f.err
	}
	cert, ok := f.certs[certType]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cert, nil
}

const margin = 24 * time.Hour

func cert(certType string, notAfter time.Time) *model.Certificate {
	return &model.Certificate{
		ID:       "cert-" + certType,
		Domain:   "mail.example.com",
		Type:     certType,
		NotAfter: notAfter,
		IsActive: true,
	}
}

func valid(certType string) *model.Certificate {
	return cert(certType, time.Now().Add(90*24*time.Hour))
}

func TestSelect_PrefersProduction(t *testing.T) {
	reader := &fakeReader{certs: map[string]*model.Certificate{
		model.CertTypeLEProduction: valid(model.CertTypeLEProduction),
		model.CertTypeLEStaging:    valid(model.CertTypeLEStaging),
		model.CertTypeSelfSigned:   valid(model.CertTypeSelfSigned),
	}}
	s := New(reader, margin)

	got, err := s.Select(context.Background(), "mail.example.com", "")
	require.NoError(t, err)
	assert.Equal(t, model.CertTypeLEProduction, got.Type)
}

func TestSelect_FallsThroughTiers(t *testing.T) {
	reader := &fakeReader{certs: map[string]*model.Certificate{
		model.CertTypeSelfSigned: valid(model.CertTypeSelfSigned),
	}}
	s := New(reader, margin)

	got, err := s.Select(context.Background(), "mail.example.com", "")
	require.NoError(t, err)
	assert.Equal(t, model.CertTypeSelfSigned, got.Type)
}

func TestSelect_ExpiringWithinMarginTreatedAsAbsent(t *testing.T) {
	reader := &fakeReader{certs: map[string]*model.Certificate{
		model.CertTypeLEProduction: cert(model.CertTypeLEProduction, time.Now().Add(12*time.Hour)),
		model.CertTypeSelfSigned:   valid(model.CertTypeSelfSigned),
	}}
	s := New(reader, margin)

	got, err := s.Select(context.Background(), "mail.example.com", "")
	require.NoError(t, err)
	assert.Equal(t, model.CertTypeSelfSigned, got.Type, "an expiring production cert must not win")
}

func TestSelect_NothingUsable(t *testing.T) {
	reader := &fakeReader{certs: map[string]*model.Certificate{
		model.CertTypeSelfSigned: cert(model.CertTypeSelfSigned, time.Now().Add(time.Hour)),
	}}
	s := New(reader, margin)

	_, err := s.Select(context.Background(), "mail.example.com", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSelect_PreferredTypeIsExact(t *testing.T) {
	reader := &fakeReader{certs: map[string]*model.Certificate{
		model.CertTypeLEProduction: valid(model.CertTypeLEProduction),
	}}
	s := New(reader, margin)

	// The preferred type is missing; a better certificate must not be
	// substituted.
	_, err := s.Select(context.Background(), "mail.example.com", model.CertTypeLEStaging)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.Select(context.Background(), "mail.example.com", model.CertTypeLEProduction)
	require.NoError(t, err)
	assert.Equal(t, model.CertTypeLEProduction, got.Type)
}

func TestSelect_ManualOnlyByExplicitRequest(t *testing.T) {
	reader := &fakeReader{certs: map[string]*model.Certificate{
		model.CertTypeManual: valid(model.CertTypeManual),
	}}
	s := New(reader, margin)

	_, err := s.Select(context.Background(), "mail.example.com", "")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.Select(context.Background(), "mail.example.com", model.CertTypeManual)
	require.NoError(t, err)
	assert.Equal(t, model.CertTypeManual, got.Type)
}

func TestSelect_UnknownPreferredType(t *testing.T) {
	s := New(&fakeReader{}, margin)

	_, err := s.Select(context.Background(), "mail.example.com", "wildcard")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

// TestSelect_OrderProperty checks that for every combination of present,
// expired, and missing certificates, selection returns the highest-ranked
// usable type and nothing else.
func TestSelect_OrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		now := time.Now()
		certs := make(map[string]*model.Certificate)
		usable := make(map[string]bool)

		for _, certType := range PreferenceOrder {
			switch rapid.IntRange(0, 2).Draw(t, certType) {
			case 0:
				// absent
			case 1:
				remaining := time.Duration(rapid.Int64Range(1, int64(margin)-1).Draw(t, certType+"_exp"))
				certs[certType] = cert(certType, now.Add(remaining))
			case 2:
				certs[certType] = cert(certType, now.Add(margin+time.Hour))
				usable[certType] = true
			}
		}

		s := New(&fakeReader{certs: certs}, margin)
		got, err := s.Select(context.Background(), "mail.example.com", "")

		var want string
		for _, certType := range PreferenceOrder {
			if usable[certType] {
				want = certType
				break
			}
		}

		if want == "" {
			assert.ErrorIs(t, err, ErrNotFound)
			return
		}
		require.NoError(t, err)
		assert.Equal(t, want, got.Type)
	})
}
