package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spin-reward-engine/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventSpinCompleted is emitted after a spin was committed, won or lost.
	EventSpinCompleted EventType = "spin.completed"
	// EventSpinRejected is emitted when eligibility or candidate checks refuse a spin.
	EventSpinRejected EventType = "spin.rejected"
	// EventRewardExhausted is emitted when a drawn reward sold out before commit.
	EventRewardExhausted EventType = "reward.exhausted"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// SpinCompletedData describes a committed spin.
type SpinCompletedData struct {
	HistoryID      string           `json:"history_id"`
	EventID        string           `json:"event_id"`
	ParticipantID  string           `json:"participant_id"`
	LocationID     *string          `json:"location_id,omitempty"`
	Won            bool             `json:"won"`
	RewardID       *string          `json:"reward_id,omitempty"`
	RewardValue    *decimal.Decimal `json:"reward_value,omitempty"`
	GoldenHour     bool             `json:"golden_hour"`
	Multiplier     float64          `json:"multiplier"`
	RemainingSpins int              `json:"remaining_spins"`
	SpunAt         time.Time        `json:"spun_at"`
}

// SpinRejectedData describes a refused spin.
type SpinRejectedData struct {
	EventID       string            `json:"event_id"`
	ParticipantID string            `json:"participant_id"`
	LocationID    string            `json:"location_id,omitempty"`
	Status        models.SpinStatus `json:"status"`
	Reason        models.ReasonCode `json:"reason_code,omitempty"`
	RequestedAt   time.Time         `json:"requested_at"`
}

// RewardExhaustedData names rewards that sold out under a concurrent draw.
type RewardExhaustedData struct {
	EventID   string   `json:"event_id"`
	RewardIDs []string `json:"reward_ids"`
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager fans events out to subscribed handlers.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	logger   zerolog.Logger
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewManager creates a new event manager.
func NewManager(enabled bool, logger zerolog.Logger) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		logger:   logger,
		now:      time.Now,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}
	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish hands the event to every subscriber asynchronously. The caller's
// cancellation is not propagated: the spin is already committed when events
// fire, so handlers must not be cut short by the request ending.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data any) {
	// The handlers are counted before the lock is released, so a Shutdown
	// that takes the write lock afterwards always waits for them.
	m.mu.RLock()
	handlers := append([]Handler(nil), m.handlers[eventType]...)
	if !m.enabled || len(handlers) == 0 {
		m.mu.RUnlock()
		return
	}
	m.wg.Add(len(handlers))
	m.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: m.now().UTC(),
		Data:      data,
	}

	hctx := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(hctx, event); err != nil {
				m.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("event handler failed")
			}
		}(handler)
	}
}

// PublishSpinCompleted publishes a spin completed event.
func (m *Manager) PublishSpinCompleted(ctx context.Context, data SpinCompletedData) {
	m.Publish(ctx, EventSpinCompleted, data)
}

// PublishSpinRejected publishes a spin rejected event.
func (m *Manager) PublishSpinRejected(ctx context.Context, data SpinRejectedData) {
	m.Publish(ctx, EventSpinRejected, data)
}

// PublishRewardExhausted publishes a reward exhausted event.
func (m *Manager) PublishRewardExhausted(ctx context.Context, eventID string, rewardIDs []string) {
	if len(rewardIDs) == 0 {
		return
	}
	m.Publish(ctx, EventRewardExhausted, RewardExhaustedData{EventID: eventID, RewardIDs: rewardIDs})
}

// Wait blocks until in-flight handlers return.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown stops accepting events and waits for in-flight handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}

// LogHandler writes every event to the logger.
func LogHandler(logger zerolog.Logger) Handler {
	return func(ctx context.Context, event Event) error {
		logger.Info().
			Str("event_type", string(event.Type)).
			Time("event_time", event.Timestamp).
			Interface("data", event.Data).
			Msg("spin event")
		return nil
	}
}
