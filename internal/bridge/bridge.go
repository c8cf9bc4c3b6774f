package bridge

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/mrv96/onair-link/internal/logger"
	"github.com/mrv96/onair-link/internal/midi"
	"github.com/mrv96/onair-link/internal/prolink"
	"github.com/mrv96/onair-link/internal/telemetry"
)

const sweepInterval = 2 * time.Second

// Bridge is the coordinating loop. It is the only goroutine that
// mutates the registry and the engine, which keeps both lock free:
// network readers and the MIDI callback hand their events over through
// channels and never touch shared state.
type Bridge struct {
	log        logger.Logger
	deviceName string

	listener *prolink.Listener
	registry *prolink.Registry
	adapter  *midi.Adapter
	engine   *Engine
	mirror   *telemetry.Publisher // nil when telemetry is disabled

	netCh  chan prolink.RawPacket
	midiCh <-chan midi.Event

	// Wire level duplicate suppression: identical consecutive packets
	// of a kind are not retransmitted.
	lastOnAir      []byte
	lastFaderStart []byte
}

// New wires the components together. midiCh is the channel the adapter
// emits on; mirror may be nil.
func New(log logger.Logger, deviceName string, listener *prolink.Listener, registry *prolink.Registry,
	adapter *midi.Adapter, engine *Engine, mirror *telemetry.Publisher, midiCh <-chan midi.Event) *Bridge {
	return &Bridge{
		log:        log,
		deviceName: deviceName,
		listener:   listener,
		registry:   registry,
		adapter:    adapter,
		engine:     engine,
		mirror:     mirror,
		netCh:      make(chan prolink.RawPacket, 64),
		midiCh:     midiCh,
	}
}

// NetChannel is where the listener delivers datagrams.
func (b *Bridge) NetChannel() chan prolink.RawPacket { return b.netCh }

// Run processes events until the context is cancelled or the MIDI
// transport is lost for good. Per-event errors never stop the loop.
func (b *Bridge) Run(ctx context.Context) error {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case raw := <-b.netCh:
			b.handlePacket(raw)

		case ev, ok := <-b.midiCh:
			if !ok {
				if err := b.adapter.Err(); err != nil {
					return err
				}
				return errors.New("MIDI event stream closed")
			}
			b.handleMIDI(ev)

		case now := <-t.C:
			removed := b.registry.Sweep(now)
			if len(removed) > 0 && b.mirror != nil {
				b.mirror.PublishDevices(b.registry.Devices())
			}
		}
	}
}

func (b *Bridge) handlePacket(raw prolink.RawPacket) {
	pkt, err := prolink.Decode(raw.Data)
	if err != nil {
		// Broadcast traffic is best effort; anything unreadable or
		// unsupported is dropped without ceremony.
		if errors.Is(err, prolink.ErrMalformed) {
			b.log.With(logger.Fields{"module": "bridge"}).Debugf(
				"malformed packet from %s (%d bytes)", raw.Src, len(raw.Data))
		}
		return
	}

	if b.registry.OnPacket(pkt, raw.Src, raw.When) && b.mirror != nil {
		b.mirror.PublishDevices(b.registry.Devices())
	}
}

func (b *Bridge) handleMIDI(ev midi.Event) {
	for _, action := range b.engine.HandleEvent(ev) {
		switch action.Kind {
		case ActionOnAir:
			b.sendOnAir(action)
		case ActionFaderStart:
			b.sendFaderStart(action)
		}
	}
}

func (b *Bridge) sendOnAir(a Action) {
	pkt := prolink.EncodeOnAir(b.deviceName, a.OnAir)
	if bytes.Equal(pkt, b.lastOnAir) {
		return
	}
	b.lastOnAir = pkt

	b.log.With(logger.Fields{"module": "bridge"}).Debugf("on air slots: %v", a.OnAir)
	if err := b.listener.Broadcast(pkt, prolink.PortBeat); err != nil {
		b.log.With(logger.Fields{"module": "bridge"}).Errorf("on-air send: %v", err)
		return
	}
	for i, on := range a.OnAir {
		b.registry.SetOnAir(i+1, on)
	}
	if b.mirror != nil {
		b.mirror.PublishOnAir(a.OnAir)
	}
}

func (b *Bridge) sendFaderStart(a Action) {
	pkt := prolink.EncodeFaderStart(b.deviceName, a.Commands)
	if bytes.Equal(pkt, b.lastFaderStart) {
		return
	}
	b.lastFaderStart = pkt

	verb := "stop"
	if a.Start {
		verb = "start"
	}
	b.log.With(logger.Fields{"module": "bridge"}).Debugf("fader %s player %d", verb, a.Player)
	if err := b.listener.Broadcast(pkt, prolink.PortBeat); err != nil {
		b.log.With(logger.Fields{"module": "bridge"}).Errorf("fader start send: %v", err)
		return
	}
	if b.mirror != nil {
		b.mirror.PublishFaderStart(a.Player, a.Start)
	}
}
