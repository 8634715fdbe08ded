package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RelayConfig tunes the polling loop.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	// Lease is how long a claimed batch stays invisible to other relays.
	Lease time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval: time.Second,
		BatchSize:    100,
		MaxRetries:   5,
		Lease:        30 * time.Second,
	}
}

// Relay drains pending events to its sinks. Delivery is at least once: an
// event is marked published once every sink has accepted it, and a retry
// only goes to the sinks that have not. A relay that dies mid-batch leaves
// its lease to expire and the batch is delivered again, so consumers dedupe
// on the event id.
type Relay struct {
	store  Store
	sinks  []Sink
	cfg    RelayConfig
	logger zerolog.Logger
	now    func() time.Time
}

func NewRelay(store Store, sinks []Sink, cfg RelayConfig, logger zerolog.Logger) *Relay {
	def := DefaultRelayConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	return &Relay{store: store, sinks: sinks, cfg: cfg, logger: logger, now: time.Now}
}

// Start polls until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	names := make([]string, 0, len(r.sinks))
	for _, s := range r.sinks {
		names = append(names, s.Name())
	}
	r.logger.Info().Strs("sinks", names).Dur("poll_interval", r.cfg.PollInterval).Msg("outbox relay started")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopping")
			return ctx.Err()
		case <-ticker.C:
			for {
				n, err := r.ProcessBatch(ctx)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						r.logger.Error().Err(err).Msg("outbox batch failed")
					}
					break
				}
				if n < r.cfg.BatchSize {
					break
				}
			}
		}
	}
}

// ProcessBatch delivers one batch and returns how many events it handled.
// No transaction is open while sinks are called.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	events, err := r.store.Claim(ctx, r.cfg.BatchSize, r.cfg.MaxRetries, r.now(), r.cfg.Lease)
	if err != nil {
		return 0, err
	}

	for _, e := range events {
		delivered, derr := r.deliver(ctx, e)
		if derr == nil {
			if err := r.store.MarkPublished(ctx, e.ID, r.now()); err != nil {
				return len(events), fmt.Errorf("mark event %d published: %w", e.ID, err)
			}
			continue
		}

		terminal := e.RetryCount+1 >= r.cfg.MaxRetries
		r.logger.Error().Err(derr).
			Int64("event_id", e.ID).
			Str("collection", e.Collection).
			Str("document_id", e.DocumentID).
			Strs("delivered_to", delivered).
			Int("retry_count", e.RetryCount+1).
			Bool("parked", terminal).
			Msg("outbox delivery failed")
		if err := r.store.MarkFailed(ctx, e.ID, delivered, derr.Error(), terminal); err != nil {
			return len(events), fmt.Errorf("mark event %d failed: %w", e.ID, err)
		}
	}
	return len(events), nil
}

// deliver sends e to every sink that has not had it yet and returns the
// full list of sinks holding it afterwards.
func (r *Relay) deliver(ctx context.Context, e *Event) ([]string, error) {
	delivered := append([]string(nil), e.DeliveredTo...)
	var errs []error
	for _, s := range r.sinks {
		if e.deliveredTo(s.Name()) {
			continue
		}
		if err := s.Deliver(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		delivered = append(delivered, s.Name())
	}
	return delivered, errors.Join(errs...)
}

// envelope is the wire shape shared by the Kafka sink and stream consumers.
type envelope struct {
	EventID    int64           `json:"eventId"`
	Collection string          `json:"collection"`
	DocumentID string          `json:"documentId"`
	Op         string          `json:"op"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func marshalEnvelope(e *Event) ([]byte, error) {
	b, err := json.Marshal(envelope{
		EventID:    e.ID,
		Collection: e.Collection,
		DocumentID: e.DocumentID,
		Op:         e.Op,
		Payload:    e.Payload,
		CreatedAt:  e.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event %d: %w", e.ID, err)
	}
	return b, nil
}
