package prolink

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// Well-known Pro DJ Link UDP ports.
const (
	PortAnnounce = 50000 // device announcements and keep-alives
	PortBeat     = 50001 // beat sync, on-air and fader start traffic
	PortStatus   = 50002 // detailed player/mixer status
)

// NumChannels is the number of channel slots carried by on-air and
// fader start packets. Fixed by the wire format.
const NumChannels = 4

// magic opens every Pro DJ Link packet.
var magic = []byte{0x51, 0x73, 0x70, 0x74, 0x31, 0x57, 0x6d, 0x4a, 0x4f, 0x4c}

const (
	magicLen      = 10
	deviceNameLen = 20

	typeFaderStart  = 0x02
	typeOnAir       = 0x03
	typeKeepAlive   = 0x06
	typeCDJStatus   = 0x0a
	typeMixerStatus = 0x29

	keepAliveLen  = 0x36
	faderStartLen = 0x28
	onAirLen      = 0x2d

	// Announce phase packets (types 0x00/0x02/0x04) only matter for
	// the device name, which ends at this offset.
	announceMinLen = 0x20
)

var (
	// ErrMalformed reports a packet that fails magic or length
	// validation. Such packets are dropped, never fatal.
	ErrMalformed = errors.New("malformed packet")

	// ErrUnknownType reports a structurally valid packet of a type this
	// bridge does not interpret.
	ErrUnknownType = errors.New("unknown packet type")
)

// DeviceType classifies a link participant, from the keep-alive type field.
type DeviceType byte

const (
	DeviceUnknown   DeviceType = 0x00
	DeviceCDJ       DeviceType = 0x01
	DeviceMixer     DeviceType = 0x02
	DeviceRekordbox DeviceType = 0x03
)

func (t DeviceType) String() string {
	switch t {
	case DeviceCDJ:
		return "cdj"
	case DeviceMixer:
		return "mixer"
	case DeviceRekordbox:
		return "rekordbox"
	}
	return "unknown"
}

// PlayState is the decoded play state from a CDJ status packet.
type PlayState byte

const (
	PlayUnknown PlayState = iota
	PlayStopped
	PlayCued
	PlayPaused
	PlayPlaying
)

func (s PlayState) String() string {
	switch s {
	case PlayStopped:
		return "stopped"
	case PlayCued:
		return "cued"
	case PlayPaused:
		return "paused"
	case PlayPlaying:
		return "playing"
	}
	return "unknown"
}

// FaderCommand is one channel slot of a fader start packet.
type FaderCommand byte

const (
	FaderStartPlay FaderCommand = 0x00 // start or resume playback
	FaderStartStop FaderCommand = 0x01 // stop and return to cue
	FaderStartHold FaderCommand = 0x02 // leave the player as it is
)

// Packet is a decoded Pro DJ Link packet. The concrete type identifies
// the variant.
type Packet interface {
	packet()
}

// Announcement is an early announce-phase packet (before the device has
// claimed a number). Only the name is meaningful at this stage.
type Announcement struct {
	Name string
}

// KeepAlive is the periodic presence assertion every live device sends
// on the announce port.
type KeepAlive struct {
	Name         string
	DeviceNumber int
	DeviceType   DeviceType
	MAC          net.HardwareAddr
	IP           net.IP
}

// Status is a decoded player or mixer status packet. BPM is zero when
// the packet does not report one.
type Status struct {
	Name         string
	DeviceNumber int
	DeviceType   DeviceType
	PlayState    PlayState
	OnAir        bool
	BPM          float64
	Counter      uint32
}

// OnAirUpdate is a mixer broadcast of the audible channel slots.
type OnAirUpdate struct {
	Name     string
	Channels [NumChannels]bool
}

// FaderStart is a mixer broadcast commanding players to start or stop.
type FaderStart struct {
	Name     string
	Commands [NumChannels]FaderCommand
}

func (Announcement) packet() {}
func (KeepAlive) packet()    {}
func (Status) packet()       {}
func (OnAirUpdate) packet()  {}
func (FaderStart) packet()   {}

// Decode validates and parses one datagram. Malformed input yields
// ErrMalformed, valid packets of uninterpreted types ErrUnknownType.
func Decode(b []byte) (Packet, error) {
	if len(b) < magicLen+1 || !bytes.Equal(b[:magicLen], magic) {
		return nil, ErrMalformed
	}

	switch b[magicLen] {
	case 0x00, 0x04:
		// Announce phase; the name sits after a one byte subtype.
		if len(b) < announceMinLen {
			return nil, ErrMalformed
		}
		return Announcement{Name: parseName(b[0x0c : 0x0c+deviceNameLen])}, nil

	case typeKeepAlive:
		return decodeKeepAlive(b)

	case typeFaderStart:
		return decodeFaderStart(b)

	case typeOnAir:
		return decodeOnAir(b)

	case typeCDJStatus:
		return decodeCDJStatus(b)

	case typeMixerStatus:
		return decodeMixerStatus(b)
	}

	return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownType, b[magicLen])
}

func decodeKeepAlive(b []byte) (Packet, error) {
	if len(b) < keepAliveLen {
		return nil, ErrMalformed
	}
	mac := make(net.HardwareAddr, 6)
	copy(mac, b[0x26:0x2c])
	ip := make(net.IP, 4)
	copy(ip, b[0x2c:0x30])
	return KeepAlive{
		Name:         parseName(b[0x0c : 0x0c+deviceNameLen]),
		DeviceNumber: int(b[0x24]),
		DeviceType:   DeviceType(b[0x25]),
		MAC:          mac,
		IP:           ip,
	}, nil
}

func decodeFaderStart(b []byte) (Packet, error) {
	if len(b) < faderStartLen {
		return nil, ErrMalformed
	}
	p := FaderStart{Name: parseName(b[0x0b : 0x0b+deviceNameLen])}
	for i := 0; i < NumChannels; i++ {
		p.Commands[i] = FaderCommand(b[0x24+i])
	}
	return p, nil
}

func decodeOnAir(b []byte) (Packet, error) {
	if len(b) < onAirLen {
		return nil, ErrMalformed
	}
	p := OnAirUpdate{Name: parseName(b[0x0b : 0x0b+deviceNameLen])}
	for i := 0; i < NumChannels; i++ {
		p.Channels[i] = b[0x24+i] != 0
	}
	return p, nil
}

// CDJ status field offsets. The packet grew over firmware generations,
// so everything past the device number is decoded only when present.
const (
	offStatusDevice  = 0x21
	offStatusPlay    = 0x7b
	offStatusFlags   = 0x89
	offStatusBPM     = 0x92
	offStatusCounter = 0xc8

	flagOnAir = 0x08
)

func decodeCDJStatus(b []byte) (Packet, error) {
	if len(b) < offStatusDevice+1 {
		return nil, ErrMalformed
	}
	s := Status{
		Name:         parseName(b[0x0b : 0x0b+deviceNameLen]),
		DeviceNumber: int(b[offStatusDevice]),
		DeviceType:   DeviceCDJ,
		PlayState:    PlayUnknown,
	}
	if len(b) > offStatusPlay {
		s.PlayState = playState(b[offStatusPlay])
	}
	if len(b) > offStatusFlags {
		s.OnAir = b[offStatusFlags]&flagOnAir != 0
	}
	if len(b) >= offStatusBPM+2 {
		if raw := binary.BigEndian.Uint16(b[offStatusBPM:]); raw != 0xffff {
			s.BPM = float64(raw) / 100
		}
	}
	if len(b) >= offStatusCounter+4 {
		s.Counter = binary.BigEndian.Uint32(b[offStatusCounter:])
	}
	return s, nil
}

const offMixerBPM = 0x2e

func decodeMixerStatus(b []byte) (Packet, error) {
	if len(b) < offStatusDevice+1 {
		return nil, ErrMalformed
	}
	s := Status{
		Name:         parseName(b[0x0b : 0x0b+deviceNameLen]),
		DeviceNumber: int(b[offStatusDevice]),
		DeviceType:   DeviceMixer,
		PlayState:    PlayUnknown,
	}
	if len(b) >= offMixerBPM+2 {
		if raw := binary.BigEndian.Uint16(b[offMixerBPM:]); raw != 0xffff {
			s.BPM = float64(raw) / 100
		}
	}
	return s, nil
}

func playState(p byte) PlayState {
	switch p {
	case 0x03, 0x04, 0x09:
		return PlayPlaying
	case 0x05:
		return PlayPaused
	case 0x06, 0x07, 0x08:
		return PlayCued
	case 0x00, 0x01, 0x11:
		return PlayStopped
	}
	return PlayUnknown
}

func parseName(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

// formatName pads or truncates to the fixed 20 byte name field.
func formatName(name string) []byte {
	b := make([]byte, deviceNameLen)
	copy(b, name)
	return b
}

// EncodeKeepAlive builds the periodic presence packet for the announce
// port. The layout is fixed by CDJ firmware expectations. A MAC shorter
// than 6 bytes (interfaces without hardware addressing) is zero padded.
func EncodeKeepAlive(name string, deviceNumber int, deviceType DeviceType, mac net.HardwareAddr, ip net.IP) []byte {
	b := make([]byte, 0, keepAliveLen)
	b = append(b, magic...)
	b = append(b, typeKeepAlive, 0x00)
	b = append(b, formatName(name)...)
	b = append(b, 0x01, 0x02, 0x00, keepAliveLen)
	b = append(b, byte(deviceNumber), byte(deviceType))
	var hw [6]byte
	copy(hw[:], mac)
	b = append(b, hw[:]...)
	b = append(b, ip.To4()...)
	b = append(b, byte(deviceType), 0x00, 0x00, 0x00, byte(deviceType), 0x00)
	return b
}

// EncodeOnAir builds the on-air broadcast for the beat port. Slot i
// lights the indicator of the player on channel i+1.
func EncodeOnAir(name string, channels [NumChannels]bool) []byte {
	b := make([]byte, 0, onAirLen)
	b = append(b, magic...)
	b = append(b, typeOnAir)
	b = append(b, formatName(name)...)
	b = append(b, 0x01, 0x00, 0x00, 0x00, 0x09)
	for _, on := range channels {
		if on {
			b = append(b, 0x01)
		} else {
			b = append(b, 0x00)
		}
	}
	b = append(b, 0x00, 0x00, 0x00, 0x00, 0x00)
	return b
}

// EncodeFaderStart builds the fader start broadcast for the beat port.
func EncodeFaderStart(name string, commands [NumChannels]FaderCommand) []byte {
	b := make([]byte, 0, faderStartLen)
	b = append(b, magic...)
	b = append(b, typeFaderStart)
	b = append(b, formatName(name)...)
	b = append(b, 0x01, 0x00, 0x00, 0x00, 0x04)
	for _, c := range commands {
		b = append(b, byte(c))
	}
	return b
}
