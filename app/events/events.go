// Package events delivers membership change notifications to injected observers
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/company-segments/app/logger"
	"github.com/amirphl/company-segments/app/metrics"
)

// Kind names a membership change
type Kind string

const (
	KindAdded   Kind = "membership.added"
	KindRemoved Kind = "membership.removed"
)

// Source tells whether a change came from a rebuild or a manual override
type Source string

const (
	SourceRebuild Source = "rebuild"
	SourceManual  Source = "manual"
)

// ChangeEvent carries the companies added to or removed from one segment in one batch
type ChangeEvent struct {
	Kind       Kind      `json:"kind"`
	SegmentID  uint      `json:"segment_id"`
	CompanyIDs []int64   `json:"company_ids"`
	Source     Source    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Observer receives change events after the batch that produced them committed
type Observer interface {
	MembershipChanged(ctx context.Context, event ChangeEvent) error
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, event ChangeEvent) error

func (f ObserverFunc) MembershipChanged(ctx context.Context, event ChangeEvent) error {
	return f(ctx, event)
}

// Dispatcher notifies observers in registration order.
// Observer failures never undo a committed batch; they are logged and joined.
type Dispatcher struct {
	observers []Observer
	log       *logger.Logger
}

// NewDispatcher creates a dispatcher over the given observers
func NewDispatcher(log *logger.Logger, observers ...Observer) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{observers: observers, log: log.Component("events")}
}

// Add appends observers
func (d *Dispatcher) Add(observers ...Observer) {
	d.observers = append(d.observers, observers...)
}

// Len returns the number of observers
func (d *Dispatcher) Len() int {
	return len(d.observers)
}

// Notify delivers every non-empty event to every observer
func (d *Dispatcher) Notify(ctx context.Context, evs ...ChangeEvent) error {
	var errs []error
	for _, ev := range evs {
		if len(ev.CompanyIDs) == 0 {
			continue
		}
		for i, o := range d.observers {
			if err := o.MembershipChanged(ctx, ev); err != nil {
				d.log.Warn().
					Err(err).
					Int("observer", i).
					Str("kind", string(ev.Kind)).
					Uint("segment_id", ev.SegmentID).
					Msg("Membership observer failed")
				errs = append(errs, fmt.Errorf("observer %d: %w", i, err))
			}
		}
	}
	return errors.Join(errs...)
}

// LogObserver writes one log line per event
func LogObserver(log *logger.Logger) Observer {
	l := log.Component("membership")
	return ObserverFunc(func(_ context.Context, ev ChangeEvent) error {
		l.Info().
			Str("kind", string(ev.Kind)).
			Str("source", string(ev.Source)).
			Uint("segment_id", ev.SegmentID).
			Int("companies", len(ev.CompanyIDs)).
			Msg("Membership changed")
		return nil
	})
}

// MetricsObserver counts changed rows per segment
func MetricsObserver() Observer {
	return ObserverFunc(func(_ context.Context, ev ChangeEvent) error {
		direction := "added"
		if ev.Kind == KindRemoved {
			direction = "removed"
		}
		metrics.MembershipChangesTotal.
			WithLabelValues(metrics.SegmentLabel(ev.SegmentID), direction, string(ev.Source)).
			Add(float64(len(ev.CompanyIDs)))
		return nil
	})
}
