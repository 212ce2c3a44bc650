package pace

import (
	"context"
	"sync"
	"time"
)

// Config describes the PCM format being delivered and the pacing targets.
type Config struct {
	SampleRate     int // Hz
	Channels       int
	BytesPerSample int
	// TargetBuffer is how much unplayed audio may sit ahead of wall clock.
	// Enough to smooth network jitter without perceptible latency.
	TargetBuffer time.Duration
	// MinSleep skips sleeps too short to be worth the timer jitter.
	MinSleep time.Duration
}

// DefaultConfig matches the 48kHz mono linear16 stream the TTS providers emit.
func DefaultConfig() Config {
	return Config{
		SampleRate:     48000,
		Channels:       1,
		BytesPerSample: 2,
		TargetBuffer:   200 * time.Millisecond,
		MinSleep:       5 * time.Millisecond,
	}
}

// Stats is a snapshot of pacing progress for logging.
type Stats struct {
	BytesSent     int64
	AudioDuration time.Duration
	Elapsed       time.Duration
}

// Pacer throttles outbound audio bytes to real-time playback rate. It never
// delays a stream that has fallen behind the clock, so catch-up is instant.
type Pacer struct {
	cfg            Config
	bytesPerSecond float64

	mu        sync.Mutex
	start     time.Time
	bytesSent int64
}

// New returns a Pacer for the given format. Zero fields fall back to defaults.
func New(cfg Config) *Pacer {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = def.Channels
	}
	if cfg.BytesPerSample <= 0 {
		cfg.BytesPerSample = def.BytesPerSample
	}
	if cfg.TargetBuffer <= 0 {
		cfg.TargetBuffer = def.TargetBuffer
	}
	if cfg.MinSleep <= 0 {
		cfg.MinSleep = def.MinSleep
	}
	return &Pacer{
		cfg:            cfg,
		bytesPerSecond: float64(cfg.SampleRate * cfg.Channels * cfg.BytesPerSample),
		start:          time.Now(),
	}
}

// Reset restarts the stream clock for a new response.
func (p *Pacer) Reset() {
	p.mu.Lock()
	p.start = time.Now()
	p.bytesSent = 0
	p.mu.Unlock()
}

// Pace accounts for chunk and sleeps until the delivered audio leads wall
// clock by no more than the target buffer. Returns early if ctx is done.
func (p *Pacer) Pace(ctx context.Context, chunk []byte) error {
	p.mu.Lock()
	p.bytesSent += int64(len(chunk))
	audio := time.Duration(float64(p.bytesSent) / p.bytesPerSecond * float64(time.Second))
	lead := audio - time.Since(p.start)
	p.mu.Unlock()

	sleep := lead - p.cfg.TargetBuffer
	if sleep < p.cfg.MinSleep {
		return nil
	}
	t := time.NewTimer(sleep)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of current pacing state.
func (p *Pacer) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		BytesSent:     p.bytesSent,
		AudioDuration: time.Duration(float64(p.bytesSent) / p.bytesPerSecond * float64(time.Second)),
		Elapsed:       time.Since(p.start),
	}
}
