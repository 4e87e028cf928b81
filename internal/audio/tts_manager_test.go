package audio

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestManagerStampsGeneration(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	a, err := m.Enqueue(SynthesisRequest{Text: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() == "" {
		t.Error("empty request id should be generated")
	}
	if a.Generation() != 0 {
		t.Errorf("generation = %d, want 0", a.Generation())
	}
	if a.Request().EnqueuedAt.IsZero() {
		t.Error("EnqueuedAt should be stamped")
	}

	if gen := m.Interrupt(); gen != 1 {
		t.Errorf("Interrupt() = %d, want 1", gen)
	}
	b, _ := m.Enqueue(SynthesisRequest{ID: "b", Text: "b"})
	if b.ID() != "b" || b.Generation() != 1 {
		t.Errorf("b = (%s, %d), want (b, 1)", b.ID(), b.Generation())
	}

	if !m.IsStale(a) {
		t.Error("request from an older generation should be stale")
	}
	if m.IsStale(b) {
		t.Error("current request should not be stale")
	}
}

func TestManagerStopIfActive(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	u, _ := m.Enqueue(SynthesisRequest{ID: "x", Text: "x"})
	other, _ := m.Enqueue(SynthesisRequest{ID: "y", Text: "y"})

	if m.StopIfActive("missing") {
		t.Error("unknown id should report false")
	}
	if !m.StopIfActive("x") {
		t.Fatal("queued id should report true")
	}
	if !m.IsStale(u) {
		t.Error("stopped request should be stale")
	}
	if m.IsStale(other) {
		t.Error("StopIfActive must not affect other requests")
	}
	if m.Generation() != 0 {
		t.Errorf("StopIfActive must not change generation, got %d", m.Generation())
	}
}

func TestManagerStopIfActiveDuplicateIDs(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	first, _ := m.Enqueue(SynthesisRequest{ID: "dup", Text: "one"})
	second, _ := m.Enqueue(SynthesisRequest{ID: "dup", Text: "two"})
	third, _ := m.Enqueue(SynthesisRequest{ID: "dup", Text: "three"})

	// 已结束的请求从索引中移除，其余同 ID 请求仍可停止
	m.release(first)
	if !m.StopIfActive("dup") {
		t.Fatal("duplicate id should report true")
	}
	if m.IsStale(first) {
		t.Error("released request must not be cancelled")
	}
	if !m.IsStale(second) || !m.IsStale(third) {
		t.Error("every active request with the id should be stopped")
	}

	m.release(second)
	m.release(third)
	if m.StopIfActive("dup") {
		t.Error("id with no active requests should report false")
	}
}

func TestManagerNextFIFO(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	for _, id := range []string{"1", "2", "3"} {
		m.Enqueue(SynthesisRequest{ID: id, Text: id})
	}
	for _, want := range []string{"1", "2", "3"} {
		u, ok := m.next()
		if !ok || u.ID() != want {
			t.Fatalf("next() = %v, want %s", u, want)
		}
	}
	for _, want := range []string{"1", "2", "3"} {
		if u := m.nextPlay(); u == nil || u.ID() != want {
			t.Fatalf("nextPlay() = %v, want %s", u, want)
		}
	}
	if u := m.nextPlay(); u != nil {
		t.Errorf("nextPlay() on empty queue = %s", u.ID())
	}
}

func TestManagerShutdownWakesWaiters(t *testing.T) {
	m := NewManager(nil)

	var wg sync.WaitGroup
	results := make(chan bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := m.next()
			results <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	m.Shutdown()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers blocked in next() were not woken by Shutdown")
	}
	close(results)
	for ok := range results {
		if ok {
			t.Error("next() should report false after Shutdown")
		}
	}

	select {
	case <-m.Done():
	default:
		t.Error("Done() should be closed after Shutdown")
	}
	if m.sleep(time.Hour) {
		t.Error("sleep should return false after Shutdown")
	}
}

func TestManagerEnqueueAfterShutdown(t *testing.T) {
	m := NewManager(nil)
	m.Shutdown()
	m.Shutdown()

	if _, err := m.Enqueue(SynthesisRequest{Text: "late"}); !errors.Is(err, ErrPipelineClosed) {
		t.Errorf("Enqueue after Shutdown = %v, want ErrPipelineClosed", err)
	}
	if !m.IsShutdown() {
		t.Error("IsShutdown() = false")
	}
}

func TestManagerWakeChannelClosesOnSignals(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	ch := m.wakeCh()
	m.Enqueue(SynthesisRequest{Text: "a"})
	select {
	case <-ch:
	default:
		t.Fatal("Enqueue should wake the player")
	}

	ch = m.wakeCh()
	m.Interrupt()
	select {
	case <-ch:
	default:
		t.Fatal("Interrupt should wake the player")
	}
}

func TestManagerPlaybackRate(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	if m.PlaybackRate() != 1.0 {
		t.Errorf("default rate = %v", m.PlaybackRate())
	}
	m.SetPlaybackRate(1.5)
	if m.PlaybackRate() != 1.5 {
		t.Errorf("rate = %v, want 1.5", m.PlaybackRate())
	}
	m.SetPlaybackRate(-1)
	if m.PlaybackRate() != 1.5 {
		t.Errorf("invalid rate should be ignored, got %v", m.PlaybackRate())
	}
	m.SetPlaybackRate(10)
	if m.PlaybackRate() != maxStretchRatio {
		t.Errorf("rate = %v, want clamped to %v", m.PlaybackRate(), maxStretchRatio)
	}
}

func TestManagerAbandonAllFinishesOutstanding(t *testing.T) {
	m := NewManager(nil)
	a, _ := m.Enqueue(SynthesisRequest{Text: "a"})
	b, _ := m.Enqueue(SynthesisRequest{Text: "b"})
	m.Shutdown()

	results := m.abandonAll()
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, u := range []*Utterance{a, b} {
		if !waitDone(u, 100*time.Millisecond) {
			t.Fatalf("%s not finished", u.ID())
		}
		if u.Outcome() != OutcomeStale {
			t.Errorf("%s outcome = %s, want stale", u.ID(), u.Outcome())
		}
		if !u.events.isEnded() {
			t.Errorf("%s event stream not ended", u.ID())
		}
	}
	if again := m.abandonAll(); len(again) != 0 {
		t.Errorf("second abandonAll = %d results", len(again))
	}
}

func TestEventStreamSingleEnd(t *testing.T) {
	s := newEventStream()
	if !s.pushData([]byte{1, 2}) {
		t.Fatal("pushData before End should succeed")
	}
	if !s.end() {
		t.Fatal("first end should succeed")
	}
	if s.end() {
		t.Error("second end should be ignored")
	}
	if s.pushData([]byte{3}) {
		t.Error("pushData after End should be ignored")
	}

	var kinds []AudioEventKind
	for {
		ev, ok := s.next()
		if !ok {
			break
		}
		kinds = append(kinds, ev.Kind)
	}
	if len(kinds) != 2 || kinds[0] != AudioData || kinds[1] != AudioEnd {
		t.Errorf("events = %v, want [Data End]", kinds)
	}
}
