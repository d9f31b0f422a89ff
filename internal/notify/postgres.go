package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresBus delivers change events over Postgres LISTEN/NOTIFY. The store
// issues pg_notify inside the same transaction as the certificate write, so
// publication is atomic with the change it describes; this type covers the
// subscribe side and a standalone Publish for components without a
// transaction in flight.
type PostgresBus struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
	// retryInterval is the pause before re-acquiring a listen connection
	// after a failure.
	retryInterval time.Duration
}

func NewPostgresBus(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresBus {
	return &PostgresBus{
		pool:          pool,
		logger:        logger,
		retryInterval: 5 * time.Second,
	}
}

// Publish sends a single event on the notification channel.
func (b *PostgresBus) Publish(ctx context.Context, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", Channel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// Subscribe holds a dedicated connection in LISTEN mode and forwards
// notifications until the context is cancelled. A lost connection is
// re-acquired after a pause; events emitted while disconnected are not
// replayed, which is acceptable because subscribers reconcile against the
// store on every event and at startup.
func (b *PostgresBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	events := make(chan Event, 16)

	go func() {
		defer close(events)
		for {
			if err := b.listen(ctx, events); err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.Warn().Err(err).Msg("notification listener lost, reconnecting")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.retryInterval):
			}
		}
	}()

	return events, nil
}

func (b *PostgresBus) listen(ctx context.Context, events chan<- Event) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen on %s: %w", Channel, err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		event, err := DecodeEvent([]byte(notification.Payload))
		if err != nil {
			b.logger.Warn().Err(err).Str("payload", notification.Payload).Msg("discarding malformed change event")
			continue
		}

		select {
		case events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
