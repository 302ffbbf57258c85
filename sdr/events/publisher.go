package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
)

const (
	TopicTurn    = "conversation.turn"
	TopicHandoff = "conversation.handoff"
)

// TurnEvent describes one processed turn.
type TurnEvent struct {
	ConversationID string    `json:"conversation_id"`
	Stage          string    `json:"stage"`
	RequiresHuman  bool      `json:"requires_human"`
	FunctionCalls  []string  `json:"function_calls,omitempty"`
	At             time.Time `json:"at"`
}

// Bus is an in-process pub/sub for turn events.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger zerolog.Logger
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, NewZerologAdapter(logger)),
		logger: logger,
	}
}

// Publish sends ev to the turn topic and, when a human is needed, to the
// handoff topic as well. Messages with no subscriber are dropped.
func (b *Bus) Publish(ctx context.Context, ev TurnEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode turn event: %w", err)
	}

	topics := []string{TopicTurn}
	if ev.RequiresHuman {
		topics = append(topics, TopicHandoff)
	}
	for _, topic := range topics {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.SetContext(ctx)
		if err := b.pubsub.Publish(topic, msg); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe delivers decoded events of topic to handle until ctx is done.
// Undecodable messages are acked and skipped.
func (b *Bus) Subscribe(ctx context.Context, topic string, handle func(TurnEvent)) error {
	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	go func() {
		for msg := range messages {
			var ev TurnEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn().Err(err).Str("topic", topic).Msg("dropping malformed event")
				msg.Ack()
				continue
			}
			handle(ev)
			msg.Ack()
		}
	}()
	return nil
}

// LogHandoffs logs every handoff event at warn level.
func (b *Bus) LogHandoffs(ctx context.Context) error {
	return b.Subscribe(ctx, TopicHandoff, func(ev TurnEvent) {
		b.logger.Warn().
			Str("conversation_id", ev.ConversationID).
			Str("stage", ev.Stage).
			Strs("function_calls", ev.FunctionCalls).
			Msg("conversation needs a human agent")
	})
}

func (b *Bus) Close() error { return b.pubsub.Close() }
