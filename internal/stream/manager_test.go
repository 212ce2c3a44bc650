package stream

import "testing"

func TestManager_StartSupersedesPrior(t *testing.T) {
	m := NewManager()
	first := m.StartStream("s1")
	second := m.StartStream("s1")
	if first == second {
		t.Fatalf("expected distinct stream ids, got %q twice", first)
	}
	// the registry holds only the new stream, and it is not stopped
	if m.StopRequested("s1") {
		t.Fatalf("new stream should be live")
	}
	st, ok := m.EndStream("s1")
	if !ok || st.StreamID != second {
		t.Fatalf("expected entry for %q, got %+v ok=%v", second, st, ok)
	}
}

func TestManager_StopIsIdempotent(t *testing.T) {
	m := NewManager()
	if m.StopStream("missing") {
		t.Fatalf("stop with no live stream must return false")
	}

	m.StartStream("s1")
	fired := 0
	m.SetOnInterrupt(func(sessionID, streamID string) { fired++ })
	if !m.StopStream("s1") {
		t.Fatalf("first stop should succeed")
	}
	if m.StopStream("s1") {
		t.Fatalf("second stop should be a no-op")
	}
	if fired != 1 {
		t.Fatalf("interrupt callback fired %d times", fired)
	}
	st, _ := m.EndStream("s1")
	if !st.Stopped() || st.InterruptedAt.IsZero() {
		t.Fatalf("expected stop flag and interrupt timestamp, got %+v", st)
	}
}

func TestManager_CheckerIsGenerationScoped(t *testing.T) {
	m := NewManager()
	m.StartStream("s1")
	checker := m.StopChecker("s1")
	if checker() {
		t.Fatalf("live stream should not read as stopped")
	}

	// a new response supersedes the old stream; the old checker goes inert
	m.StartStream("s1")
	if !checker() {
		t.Fatalf("superseded stream's checker must report stop")
	}
	fresh := m.StopChecker("s1")
	if fresh() {
		t.Fatalf("fresh checker should still be live")
	}
}

func TestManager_EndStreamRemovesEntry(t *testing.T) {
	m := NewManager()
	m.StartStream("s1")
	m.UpdateBytesStreamed("s1", 4096)
	m.UpdateBytesStreamed("s1", 1024)

	st, ok := m.EndStream("s1")
	if !ok {
		t.Fatalf("expected snapshot")
	}
	if st.BytesStreamed != 5120 {
		t.Fatalf("bytes streamed = %d", st.BytesStreamed)
	}
	if m.HasActiveStream("s1") {
		t.Fatalf("entry should be removed")
	}
	if !m.StopRequested("s1") {
		t.Fatalf("missing entry must read as stopped")
	}
	if _, ok := m.EndStream("s1"); ok {
		t.Fatalf("second end should report absence")
	}
}

func TestManager_SessionsAreIndependent(t *testing.T) {
	m := NewManager()
	m.StartStream("a")
	m.StartStream("b")
	m.StopStream("a")
	if m.StopRequested("b") {
		t.Fatalf("stopping session a must not affect session b")
	}
}
