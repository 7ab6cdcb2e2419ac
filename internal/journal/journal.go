package journal

import (
	"context"
	"time"
)

// Event types recorded during a backtest run.
const (
	TypeOrder     = "order"
	TypeRebalance = "rebalance"
	TypeSkip      = "skip"
	TypeError     = "error"
)

// Event represents a journaled event.
type Event struct {
	Time        time.Time
	Type        string // e.g., "order", "rebalance", "skip", "error"
	Description string
	Data        map[string]any
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}
