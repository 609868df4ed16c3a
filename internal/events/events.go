// Package events publishes engine lifecycle events on a watermill
// publisher.
//
// Events are emitted while the instance lock is held, before the change is
// persisted. A failed operation can therefore publish events for changes
// that never reached the store; consumers that need committed state wait
// for the Flushed event of the same instance.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/ir"
	"github.com/roach88/weave/internal/model"
)

// DefaultTopic is the topic events are published to.
const DefaultTopic = "weave.events"

// Type names a lifecycle event.
type Type string

const (
	InstanceStarted  Type = "instance.started"
	InstanceEnded    Type = "instance.ended"
	ActivityStarting Type = "activity.starting"
	ActivityEnded    Type = "activity.ended"
	TransitionTaken  Type = "transition.taken"
	Flushed          Type = "instance.flushed"
)

// Event is the JSON payload of every published message.
type Event struct {
	ID                 string       `json:"id"`
	Type               Type         `json:"type"`
	Time               time.Time    `json:"time"`
	InstanceID         string       `json:"instance_id"`
	WorkflowID         string       `json:"workflow_id"`
	ActivityInstanceID string       `json:"activity_instance_id,omitempty"`
	ActivityID         string       `json:"activity_id,omitempty"`
	State              ir.WorkState `json:"state,omitempty"`
	TransitionID       string       `json:"transition_id,omitempty"`
	ToInstanceID       string       `json:"to_activity_instance_id,omitempty"`
}

// Publisher is an engine.ExecutionListener that turns callbacks into
// watermill messages. It never vetoes an activity start.
type Publisher struct {
	engine.BaseListener

	pub    message.Publisher
	topic  string
	clock  engine.Clock
	logger *slog.Logger
}

var _ engine.ExecutionListener = (*Publisher)(nil)

// Option configures a Publisher.
type Option func(*Publisher)

// WithTopic overrides DefaultTopic.
func WithTopic(topic string) Option {
	return func(p *Publisher) { p.topic = topic }
}

// WithClock sets the time stamped on events.
func WithClock(c engine.Clock) Option {
	return func(p *Publisher) { p.clock = c }
}

// WithLogger sets the logger used to report publish failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// NewPublisher wraps pub.
func NewPublisher(pub message.Publisher, opts ...Option) *Publisher {
	p := &Publisher{
		pub:    pub,
		topic:  DefaultTopic,
		clock:  engine.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewGoChannel returns an in-process pub/sub suitable for NewPublisher and
// for subscribing to the same topic. With blockUntilAck a publish waits
// until every subscriber acked the message, which keeps the events of one
// call in order and complete once the call returns.
func NewGoChannel(logger *slog.Logger, blockUntilAck bool) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: blockUntilAck},
		watermill.NewSlogLogger(logger),
	)
}

// Decode parses the payload of a message published by a Publisher.
func Decode(msg *message.Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event %s: %w", msg.UUID, err)
	}
	return ev, nil
}

func (p *Publisher) InstanceStarted(ctx context.Context, wi *ir.WorkflowInstance) {
	p.publish(ctx, p.event(InstanceStarted, wi))
}

func (p *Publisher) InstanceEnded(ctx context.Context, wi *ir.WorkflowInstance) {
	p.publish(ctx, p.event(InstanceEnded, wi))
}

func (p *Publisher) ActivityStarting(ctx context.Context, wi *ir.WorkflowInstance, ai *ir.ActivityInstance) bool {
	p.publish(ctx, p.activityEvent(ActivityStarting, wi, ai))
	return true
}

func (p *Publisher) ActivityEnded(ctx context.Context, wi *ir.WorkflowInstance, ai *ir.ActivityInstance) {
	p.publish(ctx, p.activityEvent(ActivityEnded, wi, ai))
}

func (p *Publisher) TransitionTaken(ctx context.Context, wi *ir.WorkflowInstance, t *model.Transition, from, to *ir.ActivityInstance) {
	ev := p.activityEvent(TransitionTaken, wi, from)
	ev.TransitionID = t.ID
	ev.ToInstanceID = to.ID
	p.publish(ctx, ev)
}

func (p *Publisher) Flushed(ctx context.Context, wi *ir.WorkflowInstance) {
	p.publish(ctx, p.event(Flushed, wi))
}

func (p *Publisher) event(typ Type, wi *ir.WorkflowInstance) Event {
	return Event{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Type:       typ,
		Time:       p.clock.Now(),
		InstanceID: wi.ID,
		WorkflowID: wi.WorkflowID,
	}
}

func (p *Publisher) activityEvent(typ Type, wi *ir.WorkflowInstance, ai *ir.ActivityInstance) Event {
	ev := p.event(typ, wi)
	ev.ActivityInstanceID = ai.ID
	ev.ActivityID = ai.ActivityID
	ev.State = ai.State
	return ev
}

// publish never fails the engine operation; a lost event is logged.
func (p *Publisher) publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("encode event", "type", ev.Type, "error", err)
		return
	}
	msg := message.NewMessage(ev.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", string(ev.Type))
	msg.Metadata.Set("instance_id", ev.InstanceID)
	if err := p.pub.Publish(p.topic, msg); err != nil {
		p.logger.Warn("publish event", "type", ev.Type, "instance", ev.InstanceID, "error", err)
	}
}
