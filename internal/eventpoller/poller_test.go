package eventpoller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/papamarky/pi-camera-control/internal/apierr"
	"github.com/papamarky/pi-camera-control/internal/cameraclient"
)

func newTestPoller(t *testing.T, handler http.HandlerFunc) (*Poller, *httptest.Server) {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	return New(cameraclient.NewTestClient(srv.URL)), srv
}

func TestPollForShotReturnsAddedContents(t *testing.T) {
	var calls int32
	p, srv := newTestPoller(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			json.NewEncoder(w).Encode(map[string]any{"addedcontents": []string{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"addedcontents": []string{"http://192.168.1.50/ccapi/ver100/contents/card1/100CANON/IMG_0001.JPG"},
		})
	})
	defer srv.Close()

	paths, err := p.PollForShot(context.Background(), "shot-1", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected one path, got %v", paths)
	}
	if got := CanonicalFilename(paths); got != "IMG_0001.JPG" {
		t.Errorf("expected IMG_0001.JPG, got %s", got)
	}
}

func TestPollForShotTimesOut(t *testing.T) {
	p, srv := newTestPoller(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"addedcontents": []string{}})
	})
	defer srv.Close()

	_, err := p.PollForShot(context.Background(), "shot-1", 50*time.Millisecond)
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		t.Fatalf("expected *apierr.Error, got %T", err)
	}
	if apiErr.Code != apierr.CameraTimeout {
		t.Errorf("expected CAMERA_TIMEOUT, got %s", apiErr.Code)
	}
}

func TestPollForShotOfflineDuringPoll(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := cameraclient.NewTestClient(srv.URL)
	srv.Close() // camera unreachable from the first request

	p := New(c)
	_, err := p.PollForShot(context.Background(), "shot-1", 2*time.Second)
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		t.Fatalf("expected *apierr.Error, got %T", err)
	}
	if apiErr.Code != apierr.CameraOffline {
		t.Errorf("expected CAMERA_OFFLINE, got %s", apiErr.Code)
	}
}
