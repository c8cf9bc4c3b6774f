package midi

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/mrv96/onair-link/internal/logger"
)

const (
	rescanInterval   = time.Second
	maxReconnectWait = 30 * time.Second
	maxReconnects    = 10
)

// Adapter owns the mixer MIDI connection. It translates raw channel
// messages into semantic Events on a channel consumed by the bridge
// loop, and transparently handles the mixer being unplugged and
// replugged. If reconnecting fails for good the event channel is closed
// after recording a terminal error.
type Adapter struct {
	log       logger.Logger
	portMatch string
	profName  string
	events    chan<- Event

	mu        sync.Mutex
	drv       *rtmididrv.Driver
	in        drivers.In
	stopFn    func()
	profile   Profile
	portName  string
	connected bool
	dropped   atomic.Int64

	err error
}

// NewAdapter initialises the rtmidi driver. profileName selects a mixer
// model, or "auto" to detect it from the port name.
func NewAdapter(log logger.Logger, portMatch, profileName string, events chan<- Event) (*Adapter, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}
	if profileName != "" && !strings.EqualFold(profileName, "auto") {
		if _, ok := ProfileByName(profileName); !ok {
			drv.Close()
			return nil, fmt.Errorf("unknown mixer profile %q", profileName)
		}
	}
	return &Adapter{
		log:       log,
		portMatch: portMatch,
		profName:  profileName,
		events:    events,
		drv:       drv,
	}, nil
}

// Connect scans once for the mixer port and opens it. Called at
// startup, where a missing mixer is fatal.
func (a *Adapter) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectLocked()
}

// Profile returns the active mixer profile. Valid after Connect.
func (a *Adapter) Profile() Profile {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profile
}

// Err returns the terminal error, if the adapter gave up reconnecting.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Start launches the hot-plug watcher.
func (a *Adapter) Start(ctx context.Context) {
	go a.watch(ctx)
}

// Close shuts down the active connection and the driver.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeConnLocked()
	a.drv.Close()
}

func (a *Adapter) watch(ctx context.Context) {
	t := time.NewTicker(rescanInterval)
	defer t.Stop()

	fails := 0
	var nextTry time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		a.mu.Lock()
		if a.connected {
			if a.portPresentLocked() {
				fails = 0
				a.mu.Unlock()
				continue
			}
			a.log.With(logger.Fields{"module": "midi"}).Warnf("mixer disappeared: %s", a.portName)
			a.closeConnLocked()
			nextTry = time.Time{}
		}

		if now := time.Now(); now.Before(nextTry) {
			a.mu.Unlock()
			continue
		}

		if err := a.connectLocked(); err != nil {
			fails++
			if fails > maxReconnects {
				a.err = fmt.Errorf("mixer reconnect attempts exhausted: %w", err)
				a.mu.Unlock()
				close(a.events)
				return
			}
			wait := rescanInterval << uint(fails-1)
			if wait > maxReconnectWait {
				wait = maxReconnectWait
			}
			nextTry = time.Now().Add(wait)
			a.log.With(logger.Fields{"module": "midi"}).Debugf(
				"mixer not found (attempt %d), retrying in %s", fails, wait)
		} else {
			fails = 0
			a.emit(Event{Kind: EventReconnect, When: time.Now()})
		}
		a.mu.Unlock()
	}
}

func (a *Adapter) portPresentLocked() bool {
	ins, err := a.drv.Ins()
	if err != nil {
		return false
	}
	for _, in := range ins {
		if in.String() == a.portName {
			return true
		}
	}
	return false
}

func (a *Adapter) connectLocked() error {
	ins, err := a.drv.Ins()
	if err != nil {
		return fmt.Errorf("list MIDI inputs: %w", err)
	}

	var in drivers.In
	for _, candidate := range ins {
		if strings.Contains(candidate.String(), a.portMatch) {
			in = candidate
			break
		}
	}
	if in == nil {
		return fmt.Errorf("no MIDI port matching %q", a.portMatch)
	}

	profile, ok := ProfileByName(a.profName)
	if !ok {
		profile, ok = DetectProfile(in.String())
		if !ok {
			return fmt.Errorf("port %q matches no known mixer model", in.String())
		}
	}

	if err := in.Open(); err != nil {
		return fmt.Errorf("open %q: %w", in.String(), err)
	}

	// The profile is captured by value: the callback goroutine never
	// touches adapter state guarded by the mutex.
	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		a.onMessage(profile, msg)
	})
	if err != nil {
		in.Close()
		return fmt.Errorf("listen on %q: %w", in.String(), err)
	}

	a.in = in
	a.stopFn = stop
	a.profile = profile
	a.portName = in.String()
	a.connected = true
	a.log.With(logger.Fields{"module": "midi"}).Infof(
		"connected to %s (profile %s)", a.portName, profile.Name)
	return nil
}

func (a *Adapter) closeConnLocked() {
	if a.stopFn != nil {
		a.stopFn()
		a.stopFn = nil
	}
	if a.in != nil {
		a.in.Close()
		a.in = nil
	}
	a.connected = false
}

// onMessage runs on the rtmidi callback goroutine with the profile of
// the connection that delivered the message.
func (a *Adapter) onMessage(p Profile, msg midi.Message) {
	var ch, key, vel, cc, val uint8
	switch {
	case msg.GetControlChange(&ch, &cc, &val):
		a.handleCC(p, cc, val)
	case msg.GetNoteStart(&ch, &key, &vel):
		a.handleNote(p, key, int(vel))
	case msg.GetNoteEnd(&ch, &key):
		a.handleNote(p, key, 0)
	}
}

func (a *Adapter) handleCC(p Profile, cc, val uint8) {
	now := time.Now()
	switch {
	case cc == p.CrossFaderCC:
		a.emit(Event{Kind: EventCrossFader, Value: int(val), When: now})
	case cc >= p.FirstChannelFaderCC && cc < p.FirstChannelFaderCC+uint8(p.Channels):
		a.emit(Event{Kind: EventChannelFader, Channel: int(cc - p.FirstChannelFaderCC), Value: int(val), When: now})
	case cc >= p.FirstXFaderAssignCC && cc < p.FirstXFaderAssignCC+uint8(p.Channels):
		a.emit(Event{Kind: EventXFaderAssign, Channel: int(cc - p.FirstXFaderAssignCC), Value: int(val), When: now})
	case p.CurveCC != 0 && cc == p.CurveCC:
		a.emit(Event{Kind: EventFaderCurve, Value: int(val), When: now})
	}
}

func (a *Adapter) handleNote(p Profile, key uint8, vel int) {
	if p.FirstFaderStartNote == 0 {
		return
	}
	if key < p.FirstFaderStartNote || key >= p.FirstFaderStartNote+uint8(p.Channels) {
		return
	}
	a.emit(Event{Kind: EventFaderStartButton, Channel: int(key - p.FirstFaderStartNote), Value: vel, When: time.Now()})
}

// emit delivers without blocking the MIDI callback. A full queue means
// the bridge loop is badly behind; dropping the oldest semantics would
// need a ring, so the newest is dropped and counted instead.
func (a *Adapter) emit(ev Event) {
	select {
	case a.events <- ev:
	default:
		if n := a.dropped.Add(1); n%100 == 1 {
			a.log.With(logger.Fields{"module": "midi"}).Warnf("event queue full, %d dropped", n)
		}
	}
}
