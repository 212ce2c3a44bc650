package barge

import (
	"encoding/binary"
	"testing"
	"time"
)

// frame builds a 10ms 16kHz PCM16LE frame at a constant amplitude.
func frame(amplitude int16) []byte {
	out := make([]byte, 160*2)
	for i := 0; i < 160; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(amplitude))
	}
	return out
}

var (
	loud  = frame(3000) // RMS ~0.09, well above the 0.02 default
	quiet = frame(100)  // RMS ~0.003
)

func TestDetector_RequiresMinFrames(t *testing.T) {
	d := New(Config{})
	fired := 0
	d.SetOnBargeIn(func() { fired++ })
	d.AgentStartedSpeaking()

	if d.ProcessFrame(loud) || d.ProcessFrame(loud) {
		t.Fatalf("fired before MinFrames consecutive frames")
	}
	if !d.ProcessFrame(loud) {
		t.Fatalf("expected trigger on frame %d", DefaultConfig().MinFrames)
	}
	if fired != 1 {
		t.Fatalf("callback count = %d", fired)
	}
}

func TestDetector_CooldownSuppressesRetrigger(t *testing.T) {
	d := New(Config{Cooldown: 200 * time.Millisecond})
	fired := 0
	d.SetOnBargeIn(func() { fired++ })
	d.AgentStartedSpeaking()

	for i := 0; i < 3; i++ {
		d.ProcessFrame(loud)
	}
	// second burst immediately after must be suppressed
	for i := 0; i < 6; i++ {
		if d.ProcessFrame(loud) {
			t.Fatalf("fired during cooldown")
		}
	}
	if fired != 1 {
		t.Fatalf("expected exactly one trigger, got %d", fired)
	}

	time.Sleep(250 * time.Millisecond)
	for i := 0; i < 3; i++ {
		d.ProcessFrame(loud)
	}
	if fired != 2 {
		t.Fatalf("expected retrigger after cooldown, got %d", fired)
	}
}

func TestDetector_IgnoredWhenAgentSilent(t *testing.T) {
	d := New(Config{})
	d.SetOnBargeIn(func() { t.Fatalf("must not fire while agent silent") })
	for i := 0; i < 10; i++ {
		if d.ProcessFrame(loud) {
			t.Fatalf("fired without agent speaking")
		}
	}
}

func TestDetector_CounterDecaysOnQuietFrame(t *testing.T) {
	d := New(Config{})
	d.AgentStartedSpeaking()

	// two active frames, one dip, then one more active frame: the dip
	// decays the counter by one, so the third loud frame must not fire yet.
	d.ProcessFrame(loud)
	d.ProcessFrame(loud)
	d.ProcessFrame(quiet)
	if d.ProcessFrame(loud) {
		t.Fatalf("decay should leave counter below MinFrames")
	}
	if !d.ProcessFrame(loud) {
		t.Fatalf("expected trigger once counter recovers")
	}
}

func TestDetector_StopSpeakingResetsCounter(t *testing.T) {
	d := New(Config{})
	d.AgentStartedSpeaking()
	d.ProcessFrame(loud)
	d.ProcessFrame(loud)
	d.AgentStoppedSpeaking()
	d.AgentStartedSpeaking()
	if d.ProcessFrame(loud) {
		t.Fatalf("counter should reset across speaking sessions")
	}
}
