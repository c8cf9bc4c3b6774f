package config

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the full service configuration.
type Config struct {
	Logger    LogConf       // Logger - log level settings.
	Network   NetworkConf   // Network - Pro DJ Link interface selection.
	MIDI      MIDIConf      `toml:"midi"` // MIDI - mixer port selection.
	Bridge    BridgeConf    // Bridge - identity, thresholds and channel bindings.
	Telemetry TelemetryConf // Telemetry - optional MQTT mirror.
}

type LogConf struct {
	Level string `toml:"log-level"` // Level - logging level.
}

type NetworkConf struct {
	Interface      string `toml:"interface"`       // Interface - network interface name, empty picks the first usable one.
	LocalBroadcast bool   `toml:"local-broadcast"` // LocalBroadcast - use the subnet broadcast address instead of 255.255.255.255.
}

type MIDIConf struct {
	PortMatch string `toml:"port-match"` // PortMatch - substring matched against MIDI port names.
	Profile   string `toml:"profile"`    // Profile - mixer model name, "auto" detects from the port name.
}

// ChannelConf binds one mixer channel to one player device number.
type ChannelConf struct {
	Index      int  `toml:"index"`       // Index - mixer channel, 1-based.
	Player     int  `toml:"player"`      // Player - target player device number (1-4).
	FaderStart bool `toml:"fader-start"` // FaderStart - arm fader start for this channel.
}

type BridgeConf struct {
	DeviceName   string        `toml:"device-name"`   // DeviceName - name announced on the link, max 20 bytes.
	DeviceNumber int           `toml:"device-number"` // DeviceNumber - device number announced on the link.
	OnThreshold  int           `toml:"on-threshold"`  // OnThreshold - fader value at which a channel goes on air (0-127).
	OffThreshold int           `toml:"off-threshold"` // OffThreshold - fader value below which a channel goes off air.
	Channels     []ChannelConf `toml:"channel"`
}

type TelemetryConf struct {
	Enabled  bool   `toml:"enabled"`  // Enabled - publish state changes over MQTT.
	ClientID string `toml:"clientID"` // ClientID - MQTT client name.
	Host     string `toml:"server"`   // Host - MQTT broker address.
	Port     string `toml:"port"`     // Port - MQTT broker port.
	User     string `toml:"user"`     // User - MQTT username.
	Password string `toml:"password"` // Password - MQTT password.
}

// NewConfig reads the TOML file at path on top of the defaults.
func NewConfig(path string) (*Config, error) {
	cfg := Config{
		Logger: LogConf{Level: "info"},
		MIDI:   MIDIConf{PortMatch: "DJM", Profile: "auto"},
		Bridge: BridgeConf{
			DeviceName:   "On Air Link",
			DeviceNumber: 33,
			OnThreshold:  1,
			OffThreshold: 1,
		},
		Telemetry: TelemetryConf{ClientID: "onair-link", Host: "localhost", Port: "1883"},
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return &cfg, err
	}
	if err := cfg.validate(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Bridge.OnThreshold < c.Bridge.OffThreshold {
		return fmt.Errorf("on-threshold (%d) must not be below off-threshold (%d)",
			c.Bridge.OnThreshold, c.Bridge.OffThreshold)
	}
	if c.Bridge.OnThreshold < 0 || c.Bridge.OnThreshold > 127 {
		return fmt.Errorf("on-threshold %d out of MIDI range 0-127", c.Bridge.OnThreshold)
	}
	if c.Bridge.DeviceName == "" {
		return errors.New("device-name must not be empty")
	}
	for _, ch := range c.Bridge.Channels {
		if ch.Index < 1 {
			return fmt.Errorf("channel index %d invalid, channels are 1-based", ch.Index)
		}
		if ch.Player < 1 || ch.Player > 4 {
			return fmt.Errorf("channel %d bound to player %d, players are 1-4", ch.Index, ch.Player)
		}
	}
	return nil
}
