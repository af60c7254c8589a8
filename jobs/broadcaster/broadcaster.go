package broadcaster

import (
	"context"
	"log/slog"
	"time"

	"stockbroker/infra/outbox"
)

// Publisher delivers one encoded event downstream.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

// Store is the slice of the outbox the broadcaster needs.
type Store interface {
	Pending(limit int, maxRetries uint32) ([]outbox.Entry, error)
	MarkSent(seq uint64) error
	MarkAcked(seq uint64) error
	MarkFailed(seq uint64) error
	PurgeAcked() (int, error)
}

type Config struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries uint32
}

// Broadcaster relays outbox entries to a Publisher.
type Broadcaster struct {
	store Store
	pub   Publisher
	cfg   Config
	log   *slog.Logger
}

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

func New(store Store, pub Publisher, cfg Config, log *slog.Logger) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		store: store,
		pub:   pub,
		cfg:   cfg,
		log:   log.With("component", "broadcaster"),
	}
}

// ------------------------------------------------
// LOOP
// ------------------------------------------------

// Run drains the outbox every interval until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info("started", "interval", b.cfg.Interval)

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("stopped")
			return
		case <-ticker.C:
			if _, err := b.DrainOnce(ctx); err != nil {
				b.log.Warn("drain failed", "err", err)
			}
		}
	}
}

// ------------------------------------------------
// DRAIN
// ------------------------------------------------

// DrainOnce publishes one batch of pending entries and reports how many
// were acknowledged. A publish failure marks the entry FAILED so a later
// pass retries it; it does not abort the batch.
func (b *Broadcaster) DrainOnce(ctx context.Context) (int, error) {
	entries, err := b.store.Pending(b.cfg.BatchSize, b.cfg.MaxRetries)
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if err := b.store.MarkSent(e.Seq); err != nil {
			return acked, err
		}

		if err := b.pub.Publish(ctx, e.Key, e.Payload); err != nil {
			b.log.Warn("publish failed", "seq", e.Seq, "retries", e.Retries, "err", err)
			if err := b.store.MarkFailed(e.Seq); err != nil {
				return acked, err
			}
			continue
		}

		if err := b.store.MarkAcked(e.Seq); err != nil {
			return acked, err
		}
		acked++
	}

	if acked > 0 {
		if _, err := b.store.PurgeAcked(); err != nil {
			return acked, err
		}
		b.log.Debug("drained", "acked", acked, "batch", len(entries))
	}
	return acked, nil
}

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

func (b *Broadcaster) Close() error {
	return b.pub.Close()
}
