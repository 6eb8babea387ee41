package notification

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/advisa/consult/internal/platform/metrics"
)

// RelayConfig tunes the outbox relay.
type RelayConfig struct {
	BatchSize   int
	MaxAttempts int
	Lease       time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:   50,
		MaxAttempts: 8,
		Lease:       time.Minute,
		BaseBackoff: 15 * time.Second,
		MaxBackoff:  30 * time.Minute,
	}
}

// RelayReport summarises one pass.
type RelayReport struct {
	Claimed   int
	Delivered int
	Retried   int
	Dead      int
}

// Relay drains the outbox. Delivery is at-least-once: a message whose
// MarkDelivered write fails is sent again after its lease expires.
type Relay struct {
	store     Store
	senders   map[Channel]Sender
	templates *TemplateEngine
	cfg       RelayConfig
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewRelay(store Store, senders map[Channel]Sender, templates *TemplateEngine, cfg RelayConfig, m *metrics.Metrics, logger zerolog.Logger) *Relay {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Relay{
		store:     store,
		senders:   senders,
		templates: templates,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.With().Str("component", "outbox-relay").Logger(),
		now:       time.Now,
	}
}

// SetClock overrides the relay's time source.
func (r *Relay) SetClock(now func() time.Time) { r.now = now }

// Run drains the outbox every interval until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", interval).Msg("outbox relay started")
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("outbox pass failed")
		}
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch and attempts each message once.
func (r *Relay) RunOnce(ctx context.Context) (RelayReport, error) {
	var rep RelayReport
	msgs, err := r.store.Claim(ctx, r.now().UTC(), r.cfg.Lease, r.cfg.BatchSize)
	if err != nil {
		return rep, err
	}
	rep.Claimed = len(msgs)

	for _, m := range msgs {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		switch r.dispatch(ctx, m) {
		case outcomeDelivered:
			rep.Delivered++
		case outcomeRetry:
			rep.Retried++
		case outcomeDead:
			rep.Dead++
		}
	}
	return rep, nil
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeRetry
	outcomeDead
)

func (r *Relay) dispatch(ctx context.Context, m Message) outcome {
	log := r.logger.With().
		Str("message_id", m.ID.String()).
		Str("kind", string(m.Kind)).
		Str("channel", string(m.Channel)).
		Logger()

	err := r.deliver(ctx, m)
	if err == nil {
		if err := r.store.MarkDelivered(ctx, m.ID, r.now().UTC()); err != nil {
			log.Error().Err(err).Msg("mark delivered")
		}
		r.count(m.Channel, "delivered")
		return outcomeDelivered
	}

	attempts := m.Attempts + 1
	if errors.Is(err, ErrPermanent) || attempts >= r.cfg.MaxAttempts {
		if err := r.store.MarkFailed(ctx, m.ID, attempts, err.Error(), time.Time{}); err != nil {
			log.Error().Err(err).Msg("mark dead")
		}
		log.Warn().Err(err).Int("attempts", attempts).Msg("outbox message abandoned")
		r.count(m.Channel, "dead")
		if r.metrics != nil {
			r.metrics.OutboxDead.Inc()
		}
		return outcomeDead
	}

	next := r.now().UTC().Add(r.backoff(attempts))
	if err := r.store.MarkFailed(ctx, m.ID, attempts, err.Error(), next); err != nil {
		log.Error().Err(err).Msg("mark failed")
	}
	log.Debug().Err(err).Int("attempts", attempts).Time("next_attempt_at", next).Msg("outbox delivery failed")
	r.count(m.Channel, "retry")
	return outcomeRetry
}

func (r *Relay) deliver(ctx context.Context, m Message) error {
	sender, ok := r.senders[m.Channel]
	if !ok || sender == nil {
		return errors.Join(ErrPermanent, errors.New("no sender for channel "+string(m.Channel)))
	}

	data := make(map[string]string, len(m.Data)+1)
	for k, v := range m.Data {
		data[k] = v
	}
	data["name"] = m.Recipient.Name

	subject, body, err := r.templates.Render(m.Kind, data)
	if err != nil {
		return errors.Join(ErrPermanent, err)
	}
	return sender.Deliver(ctx, m, subject, body)
}

// backoff doubles from BaseBackoff per attempt, capped at MaxBackoff.
func (r *Relay) backoff(attempts int) time.Duration {
	d := r.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= r.cfg.MaxBackoff {
			return r.cfg.MaxBackoff
		}
	}
	return d
}

func (r *Relay) count(ch Channel, result string) {
	if r.metrics != nil {
		r.metrics.OutboxDispatched.WithLabelValues(string(ch), result).Inc()
	}
}
