// Package alert - Fan-out of intrusion alerts to external systems.
//
// An alert is raised once per OUTSIDE -> INSIDE transition. Notifier failures
// are reported to the caller, which counts and logs them; they never stop a
// session.
package alert

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/virtual-fence/zone"
)

// Event is the alert payload.
type Event struct {
	SessionID  string       `json:"session_id"`
	Frame      int          `json:"frame"`
	Timestamp  time.Time    `json:"timestamp"`
	Persons    int          `json:"persons"`
	FootPoints []zone.Point `json:"foot_points"`
	Screenshot string       `json:"screenshot,omitempty"`
}

// JSON encodes the event.
func (e Event) JSON() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "encoding alert")
	}
	return b, nil
}

// Notifier delivers an alert.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
	Close() error
}

// Multi sends each event to every notifier.
type Multi struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// NewMulti combines notifiers. Nil entries are skipped.
func NewMulti(logger *zap.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Multi{logger: logger}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len returns the number of notifiers.
func (m *Multi) Len() int {
	return len(m.notifiers)
}

// Notify delivers the event to all notifiers and returns the first error.
// A failing notifier does not prevent delivery to the others.
func (m *Multi) Notify(ctx context.Context, e Event) error {
	var first error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, e); err != nil {
			m.logger.Warn("alert delivery failed", zap.Error(err), zap.Int("frame", e.Frame))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Close closes all notifiers.
func (m *Multi) Close() error {
	var first error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
