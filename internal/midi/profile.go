package midi

import "strings"

// Profile describes how one DJM mixer model lays out its MIDI
// controllers. Values come from the Pioneer MIDI implementation charts.
type Profile struct {
	Name string

	// Channels is the number of input channels the mixer has.
	Channels int

	// CrossFaderCC reports the crossfader position.
	CrossFaderCC uint8

	// FirstChannelFaderCC is the CC of channel 1's fader; channels 2..n
	// follow consecutively.
	FirstChannelFaderCC uint8

	// FirstXFaderAssignCC is the CC of channel 1's crossfader assign
	// switch. Two channel mixers report a single reverse switch here.
	FirstXFaderAssignCC uint8

	// CurveCC reports the channel fader curve selector, 0 when the
	// model does not send it.
	CurveCC uint8

	// FirstFaderStartNote is the note of channel 1's fader start
	// trigger, 0 when the model does not send dedicated notes.
	FirstFaderStartNote uint8
}

var profiles = []Profile{
	{Name: "DJM-250MK2", Channels: 2, CrossFaderCC: 0x0b, FirstChannelFaderCC: 0x11, FirstXFaderAssignCC: 0x60},
	{Name: "DJM-450", Channels: 2, CrossFaderCC: 0x0b, FirstChannelFaderCC: 0x11, FirstXFaderAssignCC: 0x60},
	{Name: "DJM-750", Channels: 4, CrossFaderCC: 11, FirstChannelFaderCC: 17, FirstXFaderAssignCC: 65, CurveCC: 94},
	{Name: "DJM-750MK2", Channels: 4, CrossFaderCC: 0x0b, FirstChannelFaderCC: 0x11, FirstXFaderAssignCC: 0x41, CurveCC: 0x5e},
	{Name: "DJM-850", Channels: 4, CrossFaderCC: 11, FirstChannelFaderCC: 17, FirstXFaderAssignCC: 65, CurveCC: 94, FirstFaderStartNote: 102},
}

// ProfileByName returns the profile for an exact model name.
func ProfileByName(name string) (Profile, bool) {
	for _, p := range profiles {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Profile{}, false
}

// DetectProfile matches a MIDI port name against the known models. The
// longest matching name wins, so "DJM-750MK2" is not taken for a
// "DJM-750".
func DetectProfile(portName string) (Profile, bool) {
	var best Profile
	found := false
	for _, p := range profiles {
		if strings.Contains(portName, p.Name) && len(p.Name) > len(best.Name) {
			best = p
			found = true
		}
	}
	return best, found
}
