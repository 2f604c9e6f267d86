// Package fence - Decision engine that maps person detections to an intrusion
// verdict and tracks how long the zone has been occupied.
//
// Occupancy is evaluated for the zone as a whole: there is no identity per
// person across frames. A box is an intrusion box when its foot-point (the
// bottom-center of the box) lies inside the zone, points on the zone boundary
// included. The engine is a two-state machine:
//
//	OUTSIDE --(frame has intrusion)--> INSIDE
//	INSIDE  --(frame has no intrusion)--> OUTSIDE
//
// A single frame without an intrusion box ends the streak.
package fence

import (
	"fmt"
	"time"

	"github.com/nvr-ai/virtual-fence/detector"
	"github.com/nvr-ai/virtual-fence/zone"
)

// Transition is the state change caused by one frame.
type Transition int

const (
	// None means the state did not change.
	None Transition = iota
	// Entered means OUTSIDE -> INSIDE.
	Entered
	// Exited means INSIDE -> OUTSIDE.
	Exited
)

func (t Transition) String() string {
	switch t {
	case Entered:
		return "entered"
	case Exited:
		return "exited"
	default:
		return "none"
	}
}

// Verdict is the decision for a single box.
type Verdict struct {
	Box       detector.Box
	FootPoint zone.Point
	Inside    bool
}

// State is the zone occupancy record of a session.
type State struct {
	// Inside is true while the zone is occupied.
	Inside bool
	// EnteredAt is the timestamp of the last OUTSIDE -> INSIDE transition.
	EnteredAt time.Time
	// Current is the duration of the ongoing streak; 0 when not inside.
	Current time.Duration
	// Max is the longest streak seen this session.
	Max time.Duration
	// Cumulative is the total time spent inside this session.
	Cumulative time.Duration
	// Entries counts OUTSIDE -> INSIDE transitions.
	Entries int
}

func (s State) String() string {
	status := "OUTSIDE"
	if s.Inside {
		status = "INSIDE"
	}
	return fmt.Sprintf("%s current=%s max=%s total=%s entries=%d",
		status, s.Current, s.Max, s.Cumulative, s.Entries)
}

// Decision is the outcome of one frame.
type Decision struct {
	// Intrusion is true when at least one box is inside the zone.
	Intrusion bool
	// Verdicts holds one entry per input box, in input order.
	Verdicts []Verdict
	// Transition is the state change caused by this frame.
	Transition Transition
	// State is the state after this frame.
	State State
}

// Intruders returns the verdicts whose foot-point is inside the zone.
func (d Decision) Intruders() []Verdict {
	out := make([]Verdict, 0, len(d.Verdicts))
	for _, v := range d.Verdicts {
		if v.Inside {
			out = append(out, v)
		}
	}
	return out
}

// Evaluate tests every box against the zone without touching any state.
// A nil zone yields no intrusion boxes.
//
// Arguments:
//   - boxes: The person boxes of the frame.
//   - z: The zone, or nil when none is configured.
//
// Returns:
//   - bool: Whether any box is inside.
//   - []Verdict: One verdict per box.
func Evaluate(boxes []detector.Box, z *zone.Zone) (bool, []Verdict) {
	verdicts := make([]Verdict, len(boxes))
	hit := false
	for i, b := range boxes {
		fp := b.FootPoint()
		inside := z.Contains(fp)
		verdicts[i] = Verdict{Box: b, FootPoint: fp, Inside: inside}
		hit = hit || inside
	}
	return hit, verdicts
}

// Engine owns the intrusion state of one session. It is not safe for
// concurrent use; frames must be decided in order.
type Engine struct {
	state State
}

// NewEngine returns an engine in the OUTSIDE state.
func NewEngine() *Engine {
	return &Engine{}
}

// State returns a copy of the current state.
func (e *Engine) State() State {
	return e.state
}

// Reset returns the engine to the initial OUTSIDE state with zeroed durations.
func (e *Engine) Reset() {
	e.state = State{}
}

// Decide evaluates one frame and advances the state machine.
//
// Arguments:
//   - boxes: The person boxes of the frame; empty when the gate did not trigger.
//   - z: The zone, or nil when none is configured.
//   - elapsed: The time since the previous frame. Negative values count as 0.
//   - now: The frame timestamp, recorded as the entry time on OUTSIDE -> INSIDE.
//
// Returns:
//   - Decision: The verdicts, the transition and the updated state.
func (e *Engine) Decide(boxes []detector.Box, z *zone.Zone, elapsed time.Duration, now time.Time) Decision {
	if elapsed < 0 {
		elapsed = 0
	}
	intrusion, verdicts := Evaluate(boxes, z)

	transition := None
	s := &e.state
	switch {
	case intrusion && !s.Inside:
		s.Inside = true
		s.EnteredAt = now
		s.Current = 0
		s.Entries++
		transition = Entered
	case intrusion && s.Inside:
		s.Current += elapsed
		s.Cumulative += elapsed
		if s.Current > s.Max {
			s.Max = s.Current
		}
	case !intrusion && s.Inside:
		s.Inside = false
		s.Current = 0
		transition = Exited
	}

	return Decision{
		Intrusion:  intrusion,
		Verdicts:   verdicts,
		Transition: transition,
		State:      e.state,
	}
}
