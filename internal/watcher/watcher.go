// Package watcher runs one long-lived subscriber per managed service. On a
// relevant change event it re-reads authoritative state from the store,
// compares it to the service's current binding, and hands changed domains to
// the reloader. Payloads are hints only; truth always comes from the store.
package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certkeeper/internal/metrics"
	"github.com/edvin/certkeeper/internal/model"
	"github.com/edvin/certkeeper/internal/notify"
	"github.com/edvin/certkeeper/internal/reloader"
	"github.com/edvin/certkeeper/internal/selector"
	"github.com/edvin/certkeeper/internal/store"
)

// Watcher states.
const (
	StateIdle      = "idle"
	StateNotified  = "notified"
	StateReloading = "reloading"
	StateError     = "error"
)

type certSelector interface {
	Select(ctx context.Context, domain, preferredType string) (*model.Certificate, error)
}

type bindingReader interface {
	GetBinding(ctx context.Context, service, domain string) (*model.ServiceCertificateBinding, error)
}

type certReloader interface {
	Reload(ctx context.Context, svc reloader.ManagedService, domain string, cert *model.Certificate) error
}

type Watcher struct {
	svc      reloader.ManagedService
	selector certSelector
	bindings bindingReader
	reloader certReloader
	sub      notify.Subscriber
	logger   zerolog.Logger

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu    sync.Mutex
	state string
}

func New(svc reloader.ManagedService, sel certSelector, bindings bindingReader, rel certReloader, sub notify.Subscriber, maxAttempts int, logger zerolog.Logger) *Watcher {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Watcher{
		svc:            svc,
		selector:       sel,
		bindings:       bindings,
		reloader:       rel,
		sub:            sub,
		logger:         logger.With().Str("watcher", svc.Name()).Logger(),
		maxAttempts:    maxAttempts,
		initialBackoff: time.Second,
		maxBackoff:     30 * time.Second,
		state:          StateIdle,
	}
}

// State returns the watcher's current state.
func (w *Watcher) State() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) setState(s string) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Run subscribes and processes events until the context is cancelled. At
// startup every watched domain is reconciled once, so state lost while the
// watcher was down is recovered from the store.
func (w *Watcher) Run(ctx context.Context) error {
	events, err := w.sub.Subscribe(ctx)
	if err != nil {
		return err
	}

	for _, domain := range w.svc.Domains() {
		w.handle(ctx, domain)
	}

	w.logger.Info().Strs("domains", w.svc.Domains()).Msg("watcher started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, open := <-events:
			if !open {
				return errors.New("subscription closed")
			}
			if !w.relevant(event) {
				continue
			}
			w.setState(StateNotified)
			w.handle(ctx, event.Domain)
		}
	}
}

func (w *Watcher) relevant(event notify.Event) bool {
	for _, domain := range w.svc.Domains() {
		if domain == event.Domain {
			return true
		}
	}
	return false
}

// handle reconciles one domain: selection against the store decides the
// target certificate, the current binding decides whether anything changed.
// Duplicate notifications for the same logical change reduce to no-ops here.
func (w *Watcher) handle(ctx context.Context, domain string) {
	defer w.setState(StateIdle)

	cert, err := w.selector.Select(ctx, domain, "")
	if err != nil {
		if errors.Is(err, selector.ErrNotFound) {
			w.logger.Debug().Str("domain", domain).Msg("no usable certificate, nothing to apply")
			return
		}
		w.logger.Error().Err(err).Str("domain", domain).Msg("selection failed")
		return
	}

	binding, err := w.bindings.GetBinding(ctx, w.svc.Name(), domain)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		w.logger.Error().Err(err).Str("domain", domain).Msg("binding lookup failed")
		return
	}
	// Renewals reuse the certificate id, so equality of the bound material
	// is id plus validity window.
	if binding != nil && binding.Covers(cert) {
		return
	}

	w.setState(StateReloading)
	w.reloadWithRetry(ctx, domain, cert)
}

// reloadWithRetry drives the reloader with bounded exponential backoff. A
// post-reload failure (live impact) is never blindly retried: repeated blind
// reloads of a broken config can cause outages, so it escalates immediately.
func (w *Watcher) reloadWithRetry(ctx context.Context, domain string, cert *model.Certificate) {
	backoff := w.initialBackoff

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.reloader.Reload(ctx, w.svc, domain, cert)
		if err == nil {
			metrics.ReloadsTotal.WithLabelValues(w.svc.Name(), "success").Inc()
			return
		}

		metrics.ReloadsTotal.WithLabelValues(w.svc.Name(), "failure").Inc()

		var relErr *reloader.ReloadError
		if errors.As(err, &relErr) && relErr.LiveImpact {
			w.alarm(domain, cert, err)
			return
		}

		w.setState(StateError)
		w.logger.Warn().Err(err).Str("domain", domain).Int("attempt", attempt).
			Msg("reload failed, backing off")

		if attempt == w.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > w.maxBackoff {
			backoff = w.maxBackoff
		}
	}

	w.alarm(domain, cert, errors.New("retry attempts exhausted"))
}

// alarm surfaces a persistent failure. The watcher itself stays alive and
// other services' watchers are unaffected.
func (w *Watcher) alarm(domain string, cert *model.Certificate, err error) {
	metrics.WatcherAlarms.WithLabelValues(w.svc.Name()).Inc()
	w.logger.Error().Err(err).
		Str("domain", domain).
		Str("cert_id", cert.ID).
		Str("alarm", "persistent_reload_failure").
		Msg("reload failed permanently, operator attention required")
}
