package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/certkeeper/internal/model"
	"github.com/edvin/certkeeper/internal/notify"
	"github.com/edvin/certkeeper/internal/reloader"
	"github.com/edvin/certkeeper/internal/selector"
	"github.com/edvin/certkeeper/internal/store"
)

type stubService struct {
	name    string
	domains []string
}

func (s *stubService) Name() string                                               { return s.name }
func (s *stubService) Domains() []string                                          { return s.domains }
func (s *stubService) TLSEnabled() bool                                           { return true }
func (s *stubService) Render(context.Context, string, *model.Certificate) error   { return nil }
func (s *stubService) Validate(context.Context) error                             { return nil }
func (s *stubService) Reload(context.Context) error                               { return nil }
func (s *stubService) Probe(context.Context) error                                { return nil }

type stubSelector struct {
	mu    sync.Mutex
	certs map[string]*model.Certificate
}

func (s *stubSelector) Select(_ context.Context, domain, _ string) (*model.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.certs[domain]
	if !ok {
		return nil, selector.ErrNotFound
	}
	return cert, nil
}

func (s *stubSelector) set(domain string, cert *model.Certificate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[domain] = cert
}

type stubBindings struct {
	mu       sync.Mutex
	bindings map[string]*model.ServiceCertificateBinding
}

func (s *stubBindings) GetBinding(_ context.Context, service, domain string) (*model.ServiceCertificateBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[service+"/"+domain]
	if !ok {
		return nil, store.ErrNotFound
	}
	return b, nil
}

func (s *stubBindings) bind(service string, cert *model.Certificate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[service+"/"+cert.Domain] = &model.ServiceCertificateBinding{
		Service: service, Domain: cert.Domain, CertificateID: cert.ID, NotAfter: cert.NotAfter,
	}
}

// countingReloader counts reload calls and optionally fails.
type countingReloader struct {
	mu       sync.Mutex
	calls    int
	err      error
	onReload func()
}

func (r *countingReloader) Reload(_ context.Context, svc reloader.ManagedService, domain string, cert *model.Certificate) error {
	r.mu.Lock()
	r.calls++
	cb := r.onReload
	r.mu.Unlock()
	if cb != nil {
		cb()
	}
	return r.err
}

func (r *countingReloader) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestWatcher(svc *stubService, sel *stubSelector, bindings *stubBindings, rel *countingReloader, bus *notify.MemoryBus) *Watcher {
	w := New(svc, sel, bindings, rel, bus, 3, zerolog.Nop())
	w.initialBackoff = time.Millisecond
	w.maxBackoff = 5 * time.Millisecond
	return w
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWatcher_ReconcilesAtStartup(t *testing.T) {
	cert := &model.Certificate{ID: "cert-1", Domain: "mail.example.com", Type: model.CertTypeLEProduction}
	sel := &stubSelector{certs: map[string]*model.Certificate{"mail.example.com": cert}}
	bindings := &stubBindings{bindings: make(map[string]*model.ServiceCertificateBinding)}
	rel := &countingReloader{}
	bus := notify.NewMemoryBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newTestWatcher(&stubService{name: "stalwart", domains: []string{"mail.example.com"}}, sel, bindings, rel, bus)
	go w.Run(ctx)

	waitFor(t, time.Second, func() bool { return rel.callCount() == 1 })
}

func TestWatcher_DuplicateEventsReloadOnce(t *testing.T) {
	cert := &model.Certificate{ID: "cert-1", Domain: "mail.example.com", Type: model.CertTypeLEProduction}
	sel := &stubSelector{certs: map[string]*model.Certificate{}}
	bindings := &stubBindings{bindings: make(map[string]*model.ServiceCertificateBinding)}
	bus := notify.NewMemoryBus()

	rel := &countingReloader{}
	rel.onReload = func() {
		// A successful reload records the binding; mimic that so the dedup
		// check sees current state, the way the real reloader behaves.
		bindings.bind("stalwart", cert)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newTestWatcher(&stubService{name: "stalwart", domains: []string{"mail.example.com"}}, sel, bindings, rel, bus)
	go w.Run(ctx)

	// No certificate yet: startup reconcile does nothing.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, rel.callCount())

	sel.set("mail.example.com", cert)
	event := notify.Event{Domain: "mail.example.com", Type: cert.Type, Operation: model.OpRenewed, CertificateID: cert.ID}
	bus.Publish(ctx, event)
	bus.Publish(ctx, event)
	bus.Publish(ctx, event)

	waitFor(t, time.Second, func() bool { return rel.callCount() == 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rel.callCount(), "duplicate notifications must reduce to one reload")
}

func TestWatcher_IgnoresUnrelatedDomains(t *testing.T) {
	sel := &stubSelector{certs: map[string]*model.Certificate{
		"other.example.com": {ID: "cert-9", Domain: "other.example.com"},
	}}
	bindings := &stubBindings{bindings: make(map[string]*model.ServiceCertificateBinding)}
	rel := &countingReloader{}
	bus := notify.NewMemoryBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newTestWatcher(&stubService{name: "stalwart", domains: []string{"mail.example.com"}}, sel, bindings, rel, bus)
	go w.Run(ctx)
	time.Sleep(20 * time.Millisecond) // let the subscription register

	bus.Publish(ctx, notify.Event{Domain: "other.example.com", Operation: model.OpRenewed})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rel.callCount())
}

func TestWatcher_RetriesUpToMaxAttempts(t *testing.T) {
	cert := &model.Certificate{ID: "cert-1", Domain: "mail.example.com"}
	sel := &stubSelector{certs: map[string]*model.Certificate{"mail.example.com": cert}}
	bindings := &stubBindings{bindings: make(map[string]*model.ServiceCertificateBinding)}
	rel := &countingReloader{err: &reloader.ReloadError{
		Service: "stalwart", Domain: "mail.example.com", Step: "validate", Err: errors.New("bad config"),
	}}
	bus := notify.NewMemoryBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newTestWatcher(&stubService{name: "stalwart", domains: []string{"mail.example.com"}}, sel, bindings, rel, bus)
	go w.Run(ctx)

	waitFor(t, time.Second, func() bool { return rel.callCount() == 3 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, rel.callCount(), "bounded retries, then alarm")
}

func TestWatcher_LiveImpactFailureIsNeverRetried(t *testing.T) {
	cert := &model.Certificate{ID: "cert-1", Domain: "mail.example.com"}
	sel := &stubSelector{certs: map[string]*model.Certificate{"mail.example.com": cert}}
	bindings := &stubBindings{bindings: make(map[string]*model.ServiceCertificateBinding)}
	rel := &countingReloader{err: &reloader.ReloadError{
		Service: "stalwart", Domain: "mail.example.com", Step: "probe", LiveImpact: true, Err: errors.New("port closed"),
	}}
	bus := notify.NewMemoryBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newTestWatcher(&stubService{name: "stalwart", domains: []string{"mail.example.com"}}, sel, bindings, rel, bus)
	go w.Run(ctx)

	waitFor(t, time.Second, func() bool { return rel.callCount() == 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rel.callCount(), "a live-impact failure must escalate, not blind-retry")
}

func TestWatcher_RenewalOfBoundCertificateReloadsOnce(t *testing.T) {
	// Renewal supersedes the row in place: same certificate id, fresh
	// validity window. The service is still bound to the old material.
	oldCert := &model.Certificate{ID: "cert-1", Domain: "mail.example.com",
		Type: model.CertTypeLEProduction, NotAfter: time.Now().Add(12 * time.Hour)}
	renewed := &model.Certificate{ID: "cert-1", Domain: "mail.example.com",
		Type: model.CertTypeLEProduction, NotAfter: time.Now().Add(90 * 24 * time.Hour)}

	sel := &stubSelector{certs: map[string]*model.Certificate{"mail.example.com": renewed}}
	bindings := &stubBindings{bindings: make(map[string]*model.ServiceCertificateBinding)}
	bindings.bind("stalwart", oldCert)

	rel := &countingReloader{}
	rel.onReload = func() { bindings.bind("stalwart", renewed) }
	bus := notify.NewMemoryBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newTestWatcher(&stubService{name: "stalwart", domains: []string{"mail.example.com"}}, sel, bindings, rel, bus)
	go w.Run(ctx)
	time.Sleep(20 * time.Millisecond) // let the subscription register

	event := notify.Event{Domain: "mail.example.com", Type: renewed.Type, Operation: model.OpRenewed, CertificateID: renewed.ID}
	bus.Publish(ctx, event)
	bus.Publish(ctx, event)

	waitFor(t, time.Second, func() bool { return rel.callCount() == 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rel.callCount(), "renewed material must reload the service exactly once")
}

func TestWatcher_BoundCertificateIsNotReapplied(t *testing.T) {
	cert := &model.Certificate{ID: "cert-1", Domain: "mail.example.com", NotAfter: time.Now().Add(90 * 24 * time.Hour)}
	sel := &stubSelector{certs: map[string]*model.Certificate{"mail.example.com": cert}}
	bindings := &stubBindings{bindings: make(map[string]*model.ServiceCertificateBinding)}
	bindings.bind("stalwart", cert)
	rel := &countingReloader{}
	bus := notify.NewMemoryBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newTestWatcher(&stubService{name: "stalwart", domains: []string{"mail.example.com"}}, sel, bindings, rel, bus)
	go w.Run(ctx)
	time.Sleep(20 * time.Millisecond) // let the subscription register

	bus.Publish(ctx, notify.Event{Domain: "mail.example.com", Operation: model.OpUpdated, CertificateID: cert.ID})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rel.callCount())
}
