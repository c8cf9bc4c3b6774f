package prolink

import (
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/mrv96/onair-link/internal/logger"
)

func newTestRegistry(t *testing.T, timeout time.Duration) (*Registry, *logtest.Hook) {
	t.Helper()
	l, hook := logtest.NewNullLogger()
	log := &logger.Log{Entry: logrus.NewEntry(l)}
	return NewRegistry(log, timeout), hook
}

func keepAlive(number int, mac net.HardwareAddr) KeepAlive {
	return KeepAlive{
		Name:         "CDJ-2000nexus",
		DeviceNumber: number,
		DeviceType:   DeviceCDJ,
		MAC:          mac,
		IP:           net.IPv4(192, 168, 1, byte(10+number)).To4(),
	}
}

var (
	macA = net.HardwareAddr{0x00, 0x1b, 0x63, 0x11, 0x11, 0x11}
	macB = net.HardwareAddr{0x00, 0x1b, 0x63, 0x22, 0x22, 0x22}
)

func TestLivenessSweep(t *testing.T) {
	const timeout = 7 * time.Second
	r, _ := newTestRegistry(t, timeout)
	t0 := time.Now()

	r.OnPacket(keepAlive(2, macA), nil, t0)

	r.Sweep(t0.Add(timeout - time.Millisecond))
	if len(r.Devices()) != 1 {
		t.Fatal("device evicted before the liveness timeout")
	}

	removed := r.Sweep(t0.Add(timeout + time.Millisecond))
	if len(removed) != 1 || removed[0].Number != 2 {
		t.Fatalf("Sweep removed %v, want device 2", removed)
	}
	if len(r.Devices()) != 0 {
		t.Fatal("device still present after the liveness timeout")
	}
}

func TestKeepAliveRefreshesLiveness(t *testing.T) {
	const timeout = 7 * time.Second
	r, _ := newTestRegistry(t, timeout)
	t0 := time.Now()

	r.OnPacket(keepAlive(2, macA), nil, t0)
	r.OnPacket(keepAlive(2, macA), nil, t0.Add(5*time.Second))

	r.Sweep(t0.Add(timeout + time.Second))
	if len(r.Devices()) != 1 {
		t.Fatal("refreshed device evicted")
	}
}

func TestDeviceNumberConflict(t *testing.T) {
	r, hook := newTestRegistry(t, 0)
	t0 := time.Now()

	r.OnPacket(keepAlive(2, macA), nil, t0)
	r.OnPacket(keepAlive(2, macB), nil, t0.Add(time.Second))

	devs := r.Devices()
	if len(devs) != 1 {
		t.Fatalf("got %d devices, want 1", len(devs))
	}
	if devs[0].MAC.String() != macB.String() {
		t.Errorf("MAC = %s, want last writer %s", devs[0].MAC, macB)
	}

	warns := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warns++
		}
	}
	if warns != 1 {
		t.Errorf("got %d conflict warnings, want 1", warns)
	}
}

func TestStatusTracksPlayer(t *testing.T) {
	r, _ := newTestRegistry(t, 0)
	src := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 13).To4(), Port: PortStatus}

	r.OnPacket(Status{
		Name:         "CDJ-2000nexus",
		DeviceNumber: 3,
		DeviceType:   DeviceCDJ,
		PlayState:    PlayPlaying,
		BPM:          128.5,
		Counter:      17,
	}, src, time.Now())

	st, ok := r.StatusOf(3)
	if !ok {
		t.Fatal("no status for player 3")
	}
	if st.PlayState != PlayPlaying || st.BPM != 128.5 || st.Counter != 17 {
		t.Errorf("status = %+v", st)
	}

	// The status also registers the device itself.
	if len(r.Devices()) != 1 {
		t.Error("status packet did not register the device")
	}
}

func TestOnAirIsBridgeOwned(t *testing.T) {
	r, _ := newTestRegistry(t, 0)

	r.SetOnAir(1, true)

	// A player reporting itself off-air must not clear the value the
	// bridge sent.
	r.OnPacket(Status{DeviceNumber: 1, DeviceType: DeviceCDJ, OnAir: false}, nil, time.Now())

	st, ok := r.StatusOf(1)
	if !ok {
		t.Fatal("no status for player 1")
	}
	if !st.OnAir {
		t.Error("bridge-owned on-air flag was overwritten by inbound status")
	}
	if st.ReportedOnAir {
		t.Error("reported on-air flag should reflect the packet")
	}
}
