package intervalometer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/papamarky/pi-camera-control/internal/cameraclient"
	"github.com/papamarky/pi-camera-control/internal/discovery"
	"github.com/papamarky/pi-camera-control/internal/eventpoller"
)

type fakePrimary struct {
	rec discovery.CameraRecord
	ok  bool
}

func (f fakePrimary) GetPrimaryCamera() (discovery.CameraRecord, bool) { return f.rec, f.ok }

// newFakeCameraServer serves the handful of CCAPI endpoints a session
// exercises: shutter, settings (empty), and event polling, which reports
// one added file named after the current shot count on every request;
// every other path answers with a device-information body.
func newFakeCameraServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var shotCount int32
	mux := http.NewServeMux()
	mux.HandleFunc("/shooting/control/shutterbutton", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&shotCount, 1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/shooting/settings", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	})
	mux.HandleFunc("/event/polling", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.LoadInt32(&shotCount)
		json.NewEncoder(w).Encode(map[string]any{
			"addedcontents": []string{fmt.Sprintf("/contents/card1/IMG_%04d.JPG", n)},
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"productname": "EOS R5"})
	})
	return httptest.NewTLSServer(mux), &shotCount
}

func newTestSession(t *testing.T, opts SessionOptions) (*Session, *httptest.Server) {
	t.Helper()
	srv, _ := newFakeCameraServer(t)
	camera := cameraclient.NewTestClient(srv.URL)
	poller := eventpoller.New(camera)
	primary := fakePrimary{rec: discovery.CameraRecord{UUID: "cam-1"}, ok: true}
	return New("session-1", nil, camera, poller, primary, opts), srv
}

func TestSessionCompletesAfterShotLimit(t *testing.T) {
	opts := SessionOptions{
		Title:         "test",
		Interval:      1 * time.Second,
		StopCondition: StopShots,
		TotalShots:    intPtr(3),
	}
	s, srv := newTestSession(t, opts)
	defer srv.Close()

	var events []Event
	s.Subscribe(func(e Event) { events = append(events, e) })

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.State() != StateCompleted && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := s.State(); got != StateCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	stats := s.Stats()
	if stats.ShotsTaken != 3 || stats.ShotsSuccessful != 3 {
		t.Errorf("expected 3 successful shots, got %+v", stats)
	}

	var sawCompleted bool
	for _, e := range events {
		if e.Type == EventCompleted {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Error("expected a completed event")
	}
}

func TestSessionPauseResume(t *testing.T) {
	opts := SessionOptions{
		Title:         "test",
		Interval:      1 * time.Second,
		StopCondition: StopUnlimited,
	}
	s, srv := newTestSession(t, opts)
	defer srv.Close()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := s.Pause(); err != nil {
		t.Fatalf("unexpected pause error: %v", err)
	}
	if s.State() != StatePaused {
		t.Fatalf("expected paused, got %s", s.State())
	}

	statsAtPause := s.Stats()
	time.Sleep(100 * time.Millisecond)
	if s.Stats().ShotsTaken != statsAtPause.ShotsTaken {
		t.Error("expected no shots taken while paused")
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("unexpected resume error: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
}

func intPtr(n int) *int { return &n }
