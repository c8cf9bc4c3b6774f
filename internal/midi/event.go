package midi

import "time"

// EventKind identifies the semantic meaning of a mixer MIDI message.
type EventKind int

const (
	// EventChannelFader carries a channel fader position (0-127).
	EventChannelFader EventKind = iota

	// EventCrossFader carries the crossfader position (0-127).
	EventCrossFader

	// EventXFaderAssign carries a channel's crossfader assign switch
	// position (0 = A side, 64 = through, 127 = B side).
	EventXFaderAssign

	// EventFaderCurve carries the channel fader curve selector; values
	// below 64 mean the low-slope curve.
	EventFaderCurve

	// EventFaderStartButton carries a dedicated fader start trigger,
	// value > 0 starts, 0 stops.
	EventFaderStartButton

	// EventReconnect signals that the mixer connection was
	// re-established and per-channel state must be rebuilt.
	EventReconnect
)

// Event is one semantic mixer event, timestamped on receipt.
type Event struct {
	Kind    EventKind
	Channel int // 0-based mixer channel, where applicable
	Value   int
	When    time.Time
}
