package prolink

import (
	"bytes"
	"net"
	"sort"
	"time"

	"github.com/mrv96/onair-link/internal/logger"
)

// DefaultLivenessTimeout is how long a device stays registered without
// traffic. Keep-alives arrive roughly every 1.5s, so this covers a few
// missed packets.
const DefaultLivenessTimeout = 7 * time.Second

// Device is one live participant on the link segment.
type Device struct {
	Number   int
	Name     string
	Type     DeviceType
	MAC      net.HardwareAddr
	IP       net.IP
	LastSeen time.Time
}

// PlayerStatus is the latest decoded status snapshot for one player.
// OnAir holds the last value this bridge sent, which is authoritative;
// ReportedOnAir is whatever the player last claimed about itself.
type PlayerStatus struct {
	Number        int
	PlayState     PlayState
	OnAir         bool
	ReportedOnAir bool
	BPM           float64
	Counter       uint32
	LastSeen      time.Time
}

// Registry tracks live devices and player status, keyed by device
// number. All methods must be called from the bridge loop; there is no
// internal locking.
type Registry struct {
	log     logger.Logger
	timeout time.Duration

	devices map[int]*Device
	status  map[int]*PlayerStatus
}

func NewRegistry(log logger.Logger, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}
	return &Registry{
		log:     log,
		timeout: timeout,
		devices: make(map[int]*Device),
		status:  make(map[int]*PlayerStatus),
	}
}

// OnPacket folds one decoded packet into the registry. It reports
// whether the set of live devices changed.
func (r *Registry) OnPacket(p Packet, src *net.UDPAddr, now time.Time) bool {
	switch pkt := p.(type) {
	case KeepAlive:
		return r.onKeepAlive(pkt, now)
	case Status:
		return r.onStatus(pkt, src, now)
	}
	return false
}

func (r *Registry) onKeepAlive(p KeepAlive, now time.Time) bool {
	dev, ok := r.devices[p.DeviceNumber]
	if !ok {
		r.devices[p.DeviceNumber] = &Device{
			Number:   p.DeviceNumber,
			Name:     p.Name,
			Type:     p.DeviceType,
			MAC:      p.MAC,
			IP:       p.IP,
			LastSeen: now,
		}
		r.log.With(logger.Fields{"module": "registry"}).Infof(
			"device %d (%s, %s) joined from %s", p.DeviceNumber, p.Name, p.DeviceType, p.IP)
		return true
	}

	if !bytes.Equal(dev.MAC, p.MAC) {
		// Two physical devices claiming one number. Last writer wins.
		r.log.With(logger.Fields{"module": "registry"}).Warnf(
			"device number %d conflict: %s replaces %s", p.DeviceNumber, p.MAC, dev.MAC)
	}
	dev.Name = p.Name
	dev.Type = p.DeviceType
	dev.MAC = p.MAC
	dev.IP = p.IP
	dev.LastSeen = now
	return false
}

func (r *Registry) onStatus(p Status, src *net.UDPAddr, now time.Time) bool {
	joined := false
	if dev, ok := r.devices[p.DeviceNumber]; ok {
		dev.LastSeen = now
	} else if src != nil {
		// Status from a device we never saw a keep-alive from, e.g.
		// when the bridge started mid-set. Register what we know.
		r.devices[p.DeviceNumber] = &Device{
			Number:   p.DeviceNumber,
			Name:     p.Name,
			Type:     p.DeviceType,
			IP:       src.IP,
			LastSeen: now,
		}
		r.log.With(logger.Fields{"module": "registry"}).Infof(
			"device %d (%s, %s) discovered via status from %s", p.DeviceNumber, p.Name, p.DeviceType, src.IP)
		joined = true
	}

	if p.DeviceType != DeviceCDJ {
		return joined
	}

	st, ok := r.status[p.DeviceNumber]
	if !ok {
		st = &PlayerStatus{Number: p.DeviceNumber}
		r.status[p.DeviceNumber] = st
	}
	st.PlayState = p.PlayState
	st.ReportedOnAir = p.OnAir
	st.BPM = p.BPM
	st.Counter = p.Counter
	st.LastSeen = now
	return joined
}

// SetOnAir records the on-air value the bridge sent for a player. The
// bridge is the sole writer of this field.
func (r *Registry) SetOnAir(number int, onAir bool) {
	st, ok := r.status[number]
	if !ok {
		st = &PlayerStatus{Number: number}
		r.status[number] = st
	}
	st.OnAir = onAir
}

// Sweep drops devices not heard from within the liveness timeout and
// returns the removed ones.
func (r *Registry) Sweep(now time.Time) []Device {
	var removed []Device
	for num, dev := range r.devices {
		if now.Sub(dev.LastSeen) < r.timeout {
			continue
		}
		removed = append(removed, *dev)
		delete(r.devices, num)
		delete(r.status, num)
		r.log.With(logger.Fields{"module": "registry"}).Infof(
			"device %d (%s) timed out", dev.Number, dev.Name)
	}
	return removed
}

// Devices returns the live devices ordered by number.
func (r *Registry) Devices() []Device {
	out := make([]Device, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, *dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// StatusOf returns the latest status snapshot for a player.
func (r *Registry) StatusOf(number int) (PlayerStatus, bool) {
	st, ok := r.status[number]
	if !ok {
		return PlayerStatus{}, false
	}
	return *st, true
}
