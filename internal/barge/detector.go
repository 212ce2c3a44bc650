package barge

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// Config holds the thresholds for the energy fallback detector. These are
// heuristic and should be tuned per deployment; a provider-native turn
// signal, when the transport offers one, should preempt this detector.
type Config struct {
	// EnergyThreshold is the RMS level (PCM normalized to [-1,1]) above
	// which a frame counts as voice.
	EnergyThreshold float64
	// MinFrames is the number of consecutive active frames required to fire.
	MinFrames int
	// Cooldown is the refractory period after a trigger during which further
	// detections are suppressed.
	Cooldown time.Duration
}

// DefaultConfig is tuned for 16kHz mono mic audio in 10-20ms frames.
func DefaultConfig() Config {
	return Config{
		EnergyThreshold: 0.02,
		MinFrames:       3,
		Cooldown:        time.Second,
	}
}

// Detector is an energy-based fallback voice-activity detector that flags
// the user interrupting the agent. Detection only runs while the agent is
// marked speaking. One instance per active call.
type Detector struct {
	cfg Config

	mu           sync.Mutex
	speaking     bool
	activeFrames int
	lastBargeIn  time.Time
	onBargeIn    func()
}

// New returns a Detector. Zero-value fields in cfg fall back to defaults.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = def.EnergyThreshold
	}
	if cfg.MinFrames <= 0 {
		cfg.MinFrames = def.MinFrames
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Detector{cfg: cfg}
}

// SetOnBargeIn registers the callback fired when an interruption is detected.
func (d *Detector) SetOnBargeIn(fn func()) {
	d.mu.Lock()
	d.onBargeIn = fn
	d.mu.Unlock()
}

// AgentStartedSpeaking arms the detector.
func (d *Detector) AgentStartedSpeaking() {
	d.mu.Lock()
	d.speaking = true
	d.activeFrames = 0
	d.mu.Unlock()
}

// AgentStoppedSpeaking disarms the detector and clears the frame counter.
func (d *Detector) AgentStoppedSpeaking() {
	d.mu.Lock()
	d.speaking = false
	d.activeFrames = 0
	d.mu.Unlock()
}

// IsAgentSpeaking reports whether the detector is currently armed.
func (d *Detector) IsAgentSpeaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// ProcessFrame consumes one PCM16LE mono frame and returns true when it
// fires a barge-in. The callback is invoked before returning. Below the
// threshold the frame counter decays rather than resetting, so a brief dip
// mid-utterance does not restart detection.
func (d *Detector) ProcessFrame(pcm []byte) bool {
	energy := rms(pcm)

	d.mu.Lock()
	if !d.speaking {
		d.mu.Unlock()
		return false
	}
	if !d.lastBargeIn.IsZero() && time.Since(d.lastBargeIn) < d.cfg.Cooldown {
		d.mu.Unlock()
		return false
	}
	if energy <= d.cfg.EnergyThreshold {
		if d.activeFrames > 0 {
			d.activeFrames--
		}
		d.mu.Unlock()
		return false
	}
	d.activeFrames++
	if d.activeFrames < d.cfg.MinFrames {
		d.mu.Unlock()
		return false
	}
	d.activeFrames = 0
	d.lastBargeIn = time.Now()
	fn := d.onBargeIn
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

// rms computes root-mean-square energy of 16-bit little-endian samples
// normalized to [-1,1].
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}
