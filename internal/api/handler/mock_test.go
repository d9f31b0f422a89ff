package handler

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/edvin/certkeeper/internal/generator"
	"github.com/edvin/certkeeper/internal/model"
)

// mockStore implements core.CertificateStore for handler tests.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, id string) (*model.Certificate, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Certificate), args.Error(1)
}

func (m *mockStore) GetActive(ctx context.Context, domain, certType string) (*model.Certificate, error) {
	args := m.Called(ctx, domain, certType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Certificate), args.Error(1)
}

func (m *mockStore) ListByDomain(ctx context.Context, domain string) ([]model.Certificate, error) {
	args := m.Called(ctx, domain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Certificate), args.Error(1)
}

func (m *mockStore) ListActive(ctx context.Context) ([]model.Certificate, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Certificate), args.Error(1)
}

func (m *mockStore) ListExpiring(ctx context.Context, within time.Duration) ([]model.Certificate, error) {
	args := m.Called(ctx, within)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Certificate), args.Error(1)
}

func (m *mockStore) ListBindings(ctx context.Context, domain string) ([]model.ServiceCertificateBinding, error) {
	args := m.Called(ctx, domain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ServiceCertificateBinding), args.Error(1)
}

func (m *mockStore) ListEvents(ctx context.Context, domain string, limit int) ([]model.ChangeEvent, error) {
	args := m.Called(ctx, domain, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ChangeEvent), args.Error(1)
}

func (m *mockStore) Deactivate(ctx context.Context, domain, certType string) error {
	args := m.Called(ctx, domain, certType)
	return args.Error(0)
}

// mockGenerator implements core.CertificateGenerator.
type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, domain, certType string) (*generator.Result, error) {
	args := m.Called(ctx, domain, certType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*generator.Result), args.Error(1)
}

func (m *mockGenerator) ForceGenerate(ctx context.Context, domain, certType string) (*generator.Result, error) {
	args := m.Called(ctx, domain, certType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*generator.Result), args.Error(1)
}

func (m *mockGenerator) RegisterManual(ctx context.Context, domain string, certPEM, keyPEM, chainPEM []byte) (*model.Certificate, error) {
	args := m.Called(ctx, domain, certPEM, keyPEM, chainPEM)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Certificate), args.Error(1)
}

// mockSelector implements core.CertificateSelector.
type mockSelector struct {
	mock.Mock
}

func (m *mockSelector) Select(ctx context.Context, domain, preferredType string) (*model.Certificate, error) {
	args := m.Called(ctx, domain, preferredType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Certificate), args.Error(1)
}
