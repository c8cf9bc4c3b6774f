package prolink

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"
)

func TestKeepAliveRoundTrip(t *testing.T) {
	mac := net.HardwareAddr{0x00, 0x1b, 0x63, 0x84, 0x45, 0xe6}
	ip := net.IPv4(192, 168, 1, 12)

	b := EncodeKeepAlive("On Air Link", 33, DeviceMixer, mac, ip)
	if len(b) != keepAliveLen {
		t.Fatalf("keep-alive length = %d, want %d", len(b), keepAliveLen)
	}

	pkt, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ka, ok := pkt.(KeepAlive)
	if !ok {
		t.Fatalf("Decode returned %T, want KeepAlive", pkt)
	}
	if ka.Name != "On Air Link" {
		t.Errorf("name = %q, want On Air Link", ka.Name)
	}
	if ka.DeviceNumber != 33 {
		t.Errorf("device number = %d, want 33", ka.DeviceNumber)
	}
	if ka.DeviceType != DeviceMixer {
		t.Errorf("device type = %v, want mixer", ka.DeviceType)
	}
	if ka.MAC.String() != mac.String() {
		t.Errorf("MAC = %s, want %s", ka.MAC, mac)
	}
	if !ka.IP.Equal(ip) {
		t.Errorf("IP = %s, want %s", ka.IP, ip)
	}
}

func TestKeepAliveEmptyMAC(t *testing.T) {
	// Interfaces without hardware addressing (tunnels) yield an empty
	// MAC; the encoder must pad, not panic.
	b := EncodeKeepAlive("On Air Link", 33, DeviceMixer, net.HardwareAddr{}, net.IPv4(192, 168, 1, 12))
	if len(b) != keepAliveLen {
		t.Fatalf("keep-alive length = %d, want %d", len(b), keepAliveLen)
	}

	pkt, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ka := pkt.(KeepAlive)
	if ka.MAC.String() != "00:00:00:00:00:00" {
		t.Errorf("MAC = %s, want all zero", ka.MAC)
	}
}

func TestOnAirRoundTrip(t *testing.T) {
	channels := [NumChannels]bool{true, false, true, false}

	b := EncodeOnAir("On Air Link", channels)
	if len(b) != onAirLen {
		t.Fatalf("on-air length = %d, want %d", len(b), onAirLen)
	}

	pkt, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	oa, ok := pkt.(OnAirUpdate)
	if !ok {
		t.Fatalf("Decode returned %T, want OnAirUpdate", pkt)
	}
	if oa.Channels != channels {
		t.Errorf("channels = %v, want %v", oa.Channels, channels)
	}
}

func TestFaderStartRoundTrip(t *testing.T) {
	commands := [NumChannels]FaderCommand{
		FaderStartHold, FaderStartPlay, FaderStartHold, FaderStartStop,
	}

	b := EncodeFaderStart("On Air Link", commands)
	if len(b) != faderStartLen {
		t.Fatalf("fader start length = %d, want %d", len(b), faderStartLen)
	}

	pkt, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	fs, ok := pkt.(FaderStart)
	if !ok {
		t.Fatalf("Decode returned %T, want FaderStart", pkt)
	}
	if fs.Commands != commands {
		t.Errorf("commands = %v, want %v", fs.Commands, commands)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":                 nil,
		"short":                 {0x51, 0x73, 0x70},
		"magic only":            magic,
		"bad magic":             append([]byte("JUNKJUNKJU"), 0x06, 0x00),
		"truncated keep-alive":  append(append([]byte{}, magic...), typeKeepAlive, 0x00, 'x'),
		"truncated on-air":      EncodeOnAir("x", [NumChannels]bool{})[:20],
		"truncated fader start": EncodeFaderStart("x", [NumChannels]FaderCommand{})[:30],
	}
	for name, b := range cases {
		if _, err := Decode(b); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: err = %v, want ErrMalformed", name, err)
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	b := append(append([]byte{}, magic...), 0x42)
	b = append(b, make([]byte, 50)...)
	if _, err := Decode(b); !errors.Is(err, ErrUnknownType) {
		t.Errorf("err = %v, want ErrUnknownType", err)
	}
}

func TestDeviceNameTruncation(t *testing.T) {
	long := "A device name that is clearly too long"
	pkt, err := Decode(EncodeOnAir(long, [NumChannels]bool{}))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := pkt.(OnAirUpdate).Name
	if got != long[:deviceNameLen] {
		t.Errorf("name = %q, want %q", got, long[:deviceNameLen])
	}
}

func cdjStatusPacket(device int, play byte, flags byte, bpm uint16, counter uint32) []byte {
	b := make([]byte, 0xd4)
	copy(b, magic)
	b[magicLen] = typeCDJStatus
	copy(b[0x0b:], formatName("CDJ-2000nexus"))
	b[offStatusDevice] = byte(device)
	b[offStatusPlay] = play
	b[offStatusFlags] = flags
	binary.BigEndian.PutUint16(b[offStatusBPM:], bpm)
	binary.BigEndian.PutUint32(b[offStatusCounter:], counter)
	return b
}

func TestDecodeCDJStatus(t *testing.T) {
	pkt, err := Decode(cdjStatusPacket(3, 0x05, flagOnAir, 12850, 4711))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	s, ok := pkt.(Status)
	if !ok {
		t.Fatalf("Decode returned %T, want Status", pkt)
	}
	if s.DeviceNumber != 3 {
		t.Errorf("device number = %d, want 3", s.DeviceNumber)
	}
	if s.PlayState != PlayPaused {
		t.Errorf("play state = %v, want paused", s.PlayState)
	}
	if !s.OnAir {
		t.Error("on-air flag not decoded")
	}
	if s.BPM != 128.5 {
		t.Errorf("BPM = %v, want 128.5", s.BPM)
	}
	if s.Counter != 4711 {
		t.Errorf("counter = %d, want 4711", s.Counter)
	}
}

func TestDecodeCDJStatusNoBPM(t *testing.T) {
	pkt, err := Decode(cdjStatusPacket(2, 0x03, 0, 0xffff, 1))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	s := pkt.(Status)
	if s.BPM != 0 {
		t.Errorf("BPM = %v, want 0 for the no-track marker", s.BPM)
	}
	if s.PlayState != PlayPlaying {
		t.Errorf("play state = %v, want playing", s.PlayState)
	}
}

func TestDecodeAnnouncement(t *testing.T) {
	b := make([]byte, 0x25)
	copy(b, magic)
	b[magicLen] = 0x00
	copy(b[0x0c:], formatName("CDJ-900"))

	pkt, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	a, ok := pkt.(Announcement)
	if !ok {
		t.Fatalf("Decode returned %T, want Announcement", pkt)
	}
	if a.Name != "CDJ-900" {
		t.Errorf("name = %q, want CDJ-900", a.Name)
	}
}
