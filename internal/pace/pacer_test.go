package pace

import (
	"context"
	"testing"
	"time"
)

func TestPacer_SleepsWhenAhead(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetBuffer = 100 * time.Millisecond
	p := New(cfg)
	p.Reset()

	// 48000 Hz * 1 ch * 2 bytes = 96000 B/s; 48000 bytes = 500ms of audio.
	chunk := make([]byte, 48000)
	start := time.Now()
	if err := p.Pace(context.Background(), chunk); err != nil {
		t.Fatalf("pace: %v", err)
	}
	elapsed := time.Since(start)
	// Should have slept roughly 500ms - 100ms target = 400ms.
	if elapsed < 300*time.Millisecond {
		t.Fatalf("expected pacing sleep, returned after %v", elapsed)
	}
	if elapsed > 600*time.Millisecond {
		t.Fatalf("slept too long: %v", elapsed)
	}
}

func TestPacer_NoSleepWhenBehind(t *testing.T) {
	cfg := DefaultConfig()
	p := New(cfg)
	p.Reset()
	time.Sleep(30 * time.Millisecond)

	// 10ms of audio after 30ms wall clock: stream is behind, must not block.
	chunk := make([]byte, 960)
	start := time.Now()
	if err := p.Pace(context.Background(), chunk); err != nil {
		t.Fatalf("pace: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Fatalf("expected immediate return when behind, took %v", elapsed)
	}
}

func TestPacer_ContextCancelInterruptsSleep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetBuffer = 50 * time.Millisecond
	p := New(cfg)
	p.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	// 1s of audio forces a long sleep; cancel must cut it short.
	start := time.Now()
	err := p.Pace(ctx, make([]byte, 96000))
	if err == nil {
		t.Fatalf("expected context error")
	}
	if time.Since(start) > 300*time.Millisecond {
		t.Fatalf("cancel did not interrupt sleep")
	}
}

func TestPacer_StatsAndReset(t *testing.T) {
	p := New(Config{})
	_ = p.Pace(context.Background(), make([]byte, 960))
	if s := p.Stats(); s.BytesSent != 960 {
		t.Fatalf("bytes sent = %d", s.BytesSent)
	}
	p.Reset()
	if s := p.Stats(); s.BytesSent != 0 {
		t.Fatalf("reset should zero bytes, got %d", s.BytesSent)
	}
}
