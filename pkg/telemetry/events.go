package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one step-level notification from the orchestrator.
type Event struct {
	// ID is assigned on publish.
	ID string `json:"id"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// DeploymentID identifies the run the event belongs to.
	DeploymentID string `json:"deployment_id"`

	// Step names the step the event concerns.
	Step string `json:"step"`

	// Kind is one of started, succeeded, failed, warning.
	Kind string `json:"kind"`

	// Message is the human-readable log line.
	Message string `json:"message"`
}

// EventSubscriber handles published events.
type EventSubscriber func(event Event)

// EventPublisher fans step events out to subscribers. Emit never blocks
// and never fails: events are buffered and delivered by a background
// goroutine, and dropped when the buffer is full. Per deployment, the
// buffer preserves emission order.
type EventPublisher struct {
	buffer chan Event

	mu          sync.RWMutex
	subscribers []EventSubscriber

	done   chan struct{}
	closed sync.Once
}

// NewEventPublisher creates a publisher and starts its delivery loop.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	size := cfg.BufferSize
	if size <= 0 {
		size = 256
	}
	ep := &EventPublisher{
		buffer: make(chan Event, size),
		done:   make(chan struct{}),
	}
	go ep.deliver()
	return ep
}

// Subscribe registers a subscriber for all subsequent events.
func (ep *EventPublisher) Subscribe(sub EventSubscriber) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, sub)
}

// Emit publishes a step event. It returns immediately; a full buffer
// drops the event rather than stalling the caller.
func (ep *EventPublisher) Emit(deploymentID, step, kind, message string) {
	event := Event{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		DeploymentID: deploymentID,
		Step:         step,
		Kind:         kind,
		Message:      message,
	}
	select {
	case ep.buffer <- event:
	case <-ep.done:
	default:
	}
}

func (ep *EventPublisher) deliver() {
	for {
		select {
		case event := <-ep.buffer:
			ep.mu.RLock()
			subs := ep.subscribers
			ep.mu.RUnlock()
			for _, sub := range subs {
				sub(event)
			}
		case <-ep.done:
			// Drain what is already buffered before exiting.
			for {
				select {
				case event := <-ep.buffer:
					ep.mu.RLock()
					subs := ep.subscribers
					ep.mu.RUnlock()
					for _, sub := range subs {
						sub(event)
					}
				default:
					return
				}
			}
		}
	}
}

// Shutdown stops the publisher after draining buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.closed.Do(func() { close(ep.done) })

	// Give the delivery loop a moment to drain.
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if len(ep.buffer) == 0 {
				return nil
			}
		}
	}
}
