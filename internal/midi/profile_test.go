package midi

import "testing"

func TestProfileByName(t *testing.T) {
	p, ok := ProfileByName("DJM-850")
	if !ok {
		t.Fatal("DJM-850 not found")
	}
	if p.Channels != 4 || p.FirstFaderStartNote != 102 {
		t.Errorf("profile = %+v", p)
	}

	if _, ok := ProfileByName("djm-450"); !ok {
		t.Error("lookup should be case insensitive")
	}
	if _, ok := ProfileByName("DJM-9000"); ok {
		t.Error("unknown model should not resolve")
	}
}

func TestDetectProfile(t *testing.T) {
	cases := []struct {
		port string
		want string
	}{
		{"DJM-850 MIDI 1", "DJM-850"},
		{"DJM-750 MIDI 1", "DJM-750"},
		{"DJM-750MK2 MIDI 1", "DJM-750MK2"},
		{"DJM-250MK2:DJM-250MK2 MIDI 1 20:0", "DJM-250MK2"},
	}
	for _, c := range cases {
		p, ok := DetectProfile(c.port)
		if !ok {
			t.Errorf("%s: no profile detected", c.port)
			continue
		}
		if p.Name != c.want {
			t.Errorf("%s: detected %s, want %s", c.port, p.Name, c.want)
		}
	}

	if _, ok := DetectProfile("Midi Through Port-0"); ok {
		t.Error("virtual port should not match a mixer")
	}
}
