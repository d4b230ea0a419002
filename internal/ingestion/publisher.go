package ingestion

import (
	"PerpPool/internal/core"
	"PerpPool/internal/event"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundSubjectPrefix is followed by the notification type.
const OutboundSubjectPrefix = "perp.pool.events"

// OutboundPublisher publishes engine notifications to NATS for downstream
// consumers. Subjects follow the pattern perp.pool.events.{type}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan *core.Output
	logger    zerolog.Logger
}

// OutboundMessage is one published notification.
type OutboundMessage struct {
	Subject string `json:"-"`
	MsgID   string `json:"-"`

	Sequence       int64              `json:"sequence"`
	Type           string             `json:"type"`
	Command        string             `json:"command"`
	IdempotencyKey string             `json:"idempotency_key"`
	Asset          *string            `json:"asset,omitempty"`
	Payload        event.Notification `json:"payload"`
	StateHash      string             `json:"state_hash"`
	Timestamp      time.Time          `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan *core.Output, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			for _, msg := range NotificationMessages(out) {
				if err := op.publish(ctx, msg); err != nil {
					// non-fatal: consumers can rebuild from the command log
					op.logger.Warn().
						Err(err).
						Int64("sequence", msg.Sequence).
						Str("type", msg.Type).
						Msg("outbound publish failed")
				}
			}
		}
	}
}

// NotificationMessages expands an output into one message per notification,
// in emission order.
func NotificationMessages(out *core.Output) []OutboundMessage {
	if out == nil || out.Envelope == nil {
		return nil
	}
	env := out.Envelope
	hash := hex.EncodeToString(env.StateHash[:])

	msgs := make([]OutboundMessage, 0, len(out.Notifications))
	for i, n := range out.Notifications {
		typ := string(n.NotificationType())
		msgs = append(msgs, OutboundMessage{
			Subject:        fmt.Sprintf("%s.%s", OutboundSubjectPrefix, typ),
			MsgID:          fmt.Sprintf("%d-%d", env.Sequence, i),
			Sequence:       env.Sequence,
			Type:           typ,
			Command:        env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Asset:          env.AssetID,
			Payload:        n,
			StateHash:      hash,
			Timestamp:      env.Timestamp,
		})
	}
	return msgs
}

func (op *OutboundPublisher) publish(ctx context.Context, msg OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	_, err = op.js.Publish(ctx, msg.Subject, data, jetstream.WithMsgID(msg.MsgID))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "PERP_POOL_EVENTS",
		Subjects:   []string{OutboundSubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", "PERP_POOL_EVENTS").Msg("ensured outbound stream")
	return nil
}
