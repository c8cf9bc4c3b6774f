package bridge

import (
	"time"

	"github.com/mrv96/onair-link/internal/logger"
	"github.com/mrv96/onair-link/internal/midi"
	"github.com/mrv96/onair-link/internal/prolink"
)

// crossFaderEdge is how close to the end stops the crossfader must be
// before a side is considered fully cut.
const crossFaderEdge = 1

type xfaderSide int

const (
	sideBoth xfaderSide = iota
	sideA
	sideB
)

// Binding maps one mixer channel to one player device number.
type Binding struct {
	Channel    int // 1-based mixer channel
	Player     int // 1-4
	FaderStart bool
}

// ActionKind tells the bridge loop what to put on the wire.
type ActionKind int

const (
	// ActionOnAir carries a full on-air slot array to broadcast.
	ActionOnAir ActionKind = iota

	// ActionFaderStart carries a fader start command array to
	// broadcast, plus the player it targets for bookkeeping.
	ActionFaderStart
)

// Action is one outbound command decided by the engine.
type Action struct {
	Kind     ActionKind
	OnAir    [prolink.NumChannels]bool
	Commands [prolink.NumChannels]prolink.FaderCommand
	Player   int
	Start    bool
	When     time.Time
}

// Engine derives per-channel audibility from mixer events and decides
// which packets must go out. A channel is audible while its fader sits
// above the on threshold (with hysteresis against the off threshold)
// and the crossfader side it is assigned to is open. Transitions are
// edge triggered; steady state never retransmits.
type Engine struct {
	log logger.Logger

	onThreshold  int
	offThreshold int
	channels     int

	playerOf   map[int]int // 0-based channel -> player number
	faderStart map[int]bool

	fader   []int
	faderOn []bool
	audible []bool

	xfader     int
	xfaderSide xfaderSide
	assign     []int

	curveLow bool

	warnedUnbound map[int]bool
}

// NewEngine builds the engine for a mixer with the given channel count.
// Thresholds are MIDI values (0-127); on must not be below off.
func NewEngine(log logger.Logger, channels, onThreshold, offThreshold int, bindings []Binding) *Engine {
	e := &Engine{
		log:           log,
		onThreshold:   onThreshold,
		offThreshold:  offThreshold,
		channels:      channels,
		playerOf:      make(map[int]int),
		faderStart:    make(map[int]bool),
		warnedUnbound: make(map[int]bool),
	}
	channelOf := make(map[int]int) // player number -> 0-based channel
	for _, b := range bindings {
		ch := b.Channel - 1
		if prev, ok := e.playerOf[ch]; ok {
			log.With(logger.Fields{"module": "engine"}).Warnf(
				"channel %d bound twice, player %d replaces %d", b.Channel, b.Player, prev)
			delete(channelOf, prev)
		}
		if prevCh, ok := channelOf[b.Player]; ok {
			// Two channels aiming at one player is misconfiguration.
			// The later binding wins; the earlier channel goes unbound.
			log.With(logger.Fields{"module": "engine"}).Warnf(
				"player %d bound to channels %d and %d, keeping channel %d",
				b.Player, prevCh+1, b.Channel, b.Channel)
			delete(e.playerOf, prevCh)
			delete(e.faderStart, prevCh)
		}
		e.playerOf[ch] = b.Player
		e.faderStart[ch] = b.FaderStart
		channelOf[b.Player] = ch
	}
	e.Reset()
	return e
}

// Reset clears all runtime channel state, e.g. after the mixer
// reconnects. Bindings and thresholds survive.
func (e *Engine) Reset() {
	e.fader = make([]int, e.channels)
	e.faderOn = make([]bool, e.channels)
	e.audible = make([]bool, e.channels)
	e.xfader = 64
	e.xfaderSide = sideBoth
	e.assign = make([]int, e.channels)
	for i := range e.assign {
		e.assign[i] = 64
	}
	e.curveLow = false
}

// Audible reports the current audibility of a 0-based channel.
func (e *Engine) Audible(channel int) bool {
	if channel < 0 || channel >= e.channels {
		return false
	}
	return e.audible[channel]
}

// HandleEvent folds one mixer event into the channel state and returns
// the outbound actions it triggers, in order.
func (e *Engine) HandleEvent(ev midi.Event) []Action {
	switch ev.Kind {
	case midi.EventChannelFader:
		return e.onChannelFader(ev)
	case midi.EventCrossFader:
		return e.onCrossFader(ev)
	case midi.EventXFaderAssign:
		return e.onAssign(ev)
	case midi.EventFaderCurve:
		return e.onCurve(ev)
	case midi.EventFaderStartButton:
		return e.onFaderStartButton(ev)
	case midi.EventReconnect:
		// The mixer came back with unknown fader positions; drop every
		// indicator until fresh events rebuild the state.
		e.Reset()
		return []Action{e.onAirAction(ev.When)}
	}
	return nil
}

func (e *Engine) onChannelFader(ev midi.Event) []Action {
	ch := ev.Channel
	if ch < 0 || ch >= e.channels {
		return nil
	}
	e.fader[ch] = ev.Value
	e.updateFaderOn(ch)
	return e.refresh(ev.When)
}

// updateFaderOn applies the hysteresis band to one channel's fader.
// The low-slope fader curve keeps channels silent slightly further up,
// so both thresholds shift by one step while it is selected.
func (e *Engine) updateFaderOn(ch int) {
	on, off := e.onThreshold, e.offThreshold
	if e.curveLow {
		on++
		off++
	}
	switch {
	case !e.faderOn[ch] && e.fader[ch] >= on:
		e.faderOn[ch] = true
	case e.faderOn[ch] && e.fader[ch] < off:
		e.faderOn[ch] = false
	}
}

func (e *Engine) onCrossFader(ev midi.Event) []Action {
	v := ev.Value
	switch {
	case v <= crossFaderEdge-boolInt(v > e.xfader):
		e.xfaderSide = sideA
	case v >= 127-(crossFaderEdge-boolInt(v < e.xfader)):
		e.xfaderSide = sideB
	default:
		e.xfaderSide = sideBoth
	}
	e.xfader = v
	return e.refresh(ev.When)
}

func (e *Engine) onAssign(ev midi.Event) []Action {
	if ev.Channel < 0 || ev.Channel >= e.channels {
		return nil
	}
	if e.channels == 2 {
		// Two channel mixers report a single crossfader reverse
		// switch; the second assign is its mirror.
		e.assign[0] = ev.Value
		e.assign[1] = 127 - ev.Value
	} else {
		e.assign[ev.Channel] = ev.Value
	}
	return e.refresh(ev.When)
}

func (e *Engine) onCurve(ev midi.Event) []Action {
	low := ev.Value < 64
	if low == e.curveLow {
		return nil
	}
	e.curveLow = low
	for ch := 0; ch < e.channels; ch++ {
		e.updateFaderOn(ch)
	}
	return e.refresh(ev.When)
}

// onFaderStartButton handles mixers with dedicated fader start notes.
// These bypass the audibility state machine, but not the per-channel
// arm switch.
func (e *Engine) onFaderStartButton(ev midi.Event) []Action {
	player, ok := e.boundPlayer(ev.Channel)
	if !ok || !e.faderStart[ev.Channel] {
		return nil
	}
	return []Action{e.faderStartAction(player, ev.Value > 0, ev.When)}
}

// refresh recomputes audibility for every channel and emits actions for
// the channels that transitioned.
func (e *Engine) refresh(when time.Time) []Action {
	var actions []Action
	onAirDirty := false

	for ch := 0; ch < e.channels; ch++ {
		audible := e.faderOn[ch] && e.xfaderOpen(ch)
		if audible == e.audible[ch] {
			continue
		}
		e.audible[ch] = audible

		player, ok := e.boundPlayer(ch)
		if !ok {
			continue
		}
		onAirDirty = true

		if e.faderStart[ch] {
			actions = append(actions, e.faderStartAction(player, audible, when))
		}
	}

	if onAirDirty {
		// One broadcast covers all channels; prepend so the indicator
		// change lands before the transport command.
		actions = append([]Action{e.onAirAction(when)}, actions...)
	}
	return actions
}

func (e *Engine) onAirAction(when time.Time) Action {
	a := Action{Kind: ActionOnAir, When: when}
	for ch := 0; ch < e.channels; ch++ {
		player, ok := e.playerOf[ch]
		if !ok || !e.audible[ch] {
			continue
		}
		a.OnAir[player-1] = true
	}
	return a
}

func (e *Engine) faderStartAction(player int, start bool, when time.Time) Action {
	a := Action{Kind: ActionFaderStart, Player: player, Start: start, When: when}
	for i := range a.Commands {
		a.Commands[i] = prolink.FaderStartHold
	}
	if start {
		a.Commands[player-1] = prolink.FaderStartPlay
	} else {
		a.Commands[player-1] = prolink.FaderStartStop
	}
	return a
}

func (e *Engine) xfaderOpen(ch int) bool {
	switch e.xfaderSide {
	case sideA:
		return e.assign[ch] <= 64
	case sideB:
		return e.assign[ch] >= 64
	}
	return true
}

// boundPlayer resolves a channel's player, warning once per channel
// per run when there is no binding.
func (e *Engine) boundPlayer(ch int) (int, bool) {
	player, ok := e.playerOf[ch]
	if !ok {
		if !e.warnedUnbound[ch] {
			e.warnedUnbound[ch] = true
			e.log.With(logger.Fields{"module": "engine"}).Warnf(
				"channel %d is active but bound to no player", ch+1)
		}
		return 0, false
	}
	return player, true
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
