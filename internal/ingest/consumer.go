package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tradejournal/internal/observability"
	"tradejournal/internal/store"
)

const (
	// StreamName is the JetStream stream name for fill events.
	StreamName = "JOURNAL_FILLS"
	// SubjectPrefix is the NATS subject prefix for fill events.
	SubjectPrefix = "journal.fills."
	// SubjectWildcard subscribes to all fill subjects.
	SubjectWildcard = "journal.fills.>"
	// ConsumerName is the durable consumer name.
	ConsumerName = "journal-fill-consumer"
)

// Consumer subscribes to fill events via NATS JetStream. Each fill is
// inserted and its (account, symbol) partition rebuilt.
type Consumer struct {
	nc      *nats.Conn
	repo    *store.Repository
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewConsumer creates a new NATS fill consumer.
func NewConsumer(nc *nats.Conn, repo *store.Repository, metrics *observability.Metrics) *Consumer {
	return &Consumer{
		nc:      nc,
		repo:    repo,
		metrics: metrics,
		logger:  log.With().Str("component", "ingest").Logger(),
	}
}

// Start begins consuming fill events. Blocks until context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	js, err := jetstream.New(c.nc)
	if err != nil {
		return fmt.Errorf("create jetstream context: %w", err)
	}

	// Create or update the stream
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectWildcard},
		Storage:  jetstream.FileStorage,
		MaxBytes: 100 * 1024 * 1024, // 100MB
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	// Create durable consumer
	cons, err := js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	c.logger.Info().Msg("started consuming fill events from NATS JetStream")

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		if err := c.handleMessage(ctx, msg); err != nil {
			c.logger.Error().Err(err).
				Str("subject", msg.Subject()).
				Msg("failed to handle fill message")
			// NAK for redelivery on DB errors
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	<-ctx.Done()
	cc.Stop()
	c.logger.Info().Msg("stopped consuming fill events")
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg jetstream.Msg) error {
	var event FillEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		c.logger.Warn().Err(err).
			Str("subject", msg.Subject()).
			Msg("failed to unmarshal fill event, rejecting")
		// Terminate — malformed messages should not be redelivered
		msg.Term()
		return nil
	}

	if err := event.Validate(); err != nil {
		c.logger.Warn().Err(err).
			Str("external_trade_id", event.ExternalTradeID).
			Str("subject", msg.Subject()).
			Msg("invalid fill event, rejecting")
		msg.Term()
		return nil
	}

	fill, err := event.ToDomain()
	if err != nil {
		c.logger.Warn().Err(err).
			Str("external_trade_id", event.ExternalTradeID).
			Msg("failed to convert fill event, rejecting")
		msg.Term()
		return nil
	}

	if _, err := c.repo.GetOrCreateAccount(ctx, fill.AccountID); err != nil {
		return fmt.Errorf("get or create account: %w", err)
	}

	inserted, err := c.repo.IngestFill(ctx, fill, event.StrategyID)
	if err != nil {
		return fmt.Errorf("ingest fill: %w", err)
	}

	if !inserted {
		c.logger.Debug().
			Str("external_trade_id", fill.ExternalTradeID).
			Msg("duplicate fill, skipped")
		return nil
	}

	c.metrics.FillsIngested.Inc()

	// Bring the partition's lots, closures, campaigns, and legs up to date.
	stats, err := c.repo.RebuildSymbol(ctx, fill.AccountID, fill.Symbol)
	if err != nil {
		return fmt.Errorf("rebuild partition: %w", err)
	}
	c.metrics.RecordMatch(stats)

	c.logger.Info().
		Str("external_trade_id", fill.ExternalTradeID).
		Str("account_id", fill.AccountID).
		Str("symbol", fill.Symbol).
		Str("side", string(fill.Side)).
		Float64("quantity", fill.Quantity).
		Float64("price", fill.Price).
		Int("closures", stats.ClosuresCreated).
		Int("legs", stats.LegsCreated).
		Msg("ingested fill")

	return nil
}

// ConnectNATS connects to NATS with exponential-backoff retry. Inline
// credentials take precedence over a credentials file path.
func ConnectNATS(urls string, credsFile, creds string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("tradejournal"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
	}

	if creds != "" {
		tmp, err := os.CreateTemp("", "nats-creds-*.creds")
		if err != nil {
			return nil, fmt.Errorf("create temp credentials file: %w", err)
		}
		if _, err := tmp.WriteString(creds); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, fmt.Errorf("write credentials: %w", err)
		}
		tmp.Close()
		credsFile = tmp.Name()
	}
	if credsFile != "" {
		opts = append(opts, nats.UserCredentials(credsFile))
	}

	backoff := 100 * time.Millisecond
	for attempt := 1; ; attempt++ {
		nc, err := nats.Connect(urls, opts...)
		if err == nil {
			log.Info().Str("url", nc.ConnectedUrl()).Int("attempt", attempt).Msg("connected to NATS")
			return nc, nil
		}

		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).
			Msg("failed to connect to NATS, retrying...")
		time.Sleep(backoff)
		if backoff *= 2; backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}
