package cameraclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/papamarky/pi-camera-control/internal/apierr"
)

func newTestCamera(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	c := New("127.0.0.1", 0, "ver100")
	c.baseURL = srv.URL
	c.http = srv.Client()
	c.http.Transport.(*http.Transport).TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return c, srv
}

func TestGetConnectionStatus(t *testing.T) {
	c, srv := newTestCamera(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"productname": "EOS R5"})
	})
	defer srv.Close()

	status, err := c.GetConnectionStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Connected || status.Model != "EOS R5" {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestServiceUnavailableClassifiedAsBusy(t *testing.T) {
	c, srv := newTestCamera(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer srv.Close()

	err := c.TakePhoto(context.Background(), false)
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		t.Fatalf("expected *apierr.Error, got %T", err)
	}
	if apiErr.Code != apierr.CameraBusy {
		t.Errorf("expected CAMERA_BUSY, got %s", apiErr.Code)
	}
}

func TestConnectionLostAfterThreeFailures(t *testing.T) {
	c := New("10.0.0.5", 443, "ver100")
	c.http.Timeout = 50 * time.Millisecond
	for i := 0; i < 3; i++ {
		c.TakePhoto(context.Background(), false)
	}
	if !c.ConnectionLost() {
		t.Error("expected ConnectionLost after 3 consecutive transport failures")
	}
}

func TestGetStorageInfoEmptyList(t *testing.T) {
	c, srv := newTestCamera(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"storagelist": []any{}})
	})
	defer srv.Close()

	info, err := c.GetStorageInfo(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Mounted || info.TotalBytes != 0 || info.FreeBytes != 0 {
		t.Errorf("expected unmounted zeroed info, got %+v", info)
	}
}

func TestPauseResumePolling(t *testing.T) {
	c := New("10.0.0.5", 443, "ver100")
	if c.InfoPollingPaused() {
		t.Fatal("should start unpaused")
	}
	c.PauseInfoPolling()
	if !c.InfoPollingPaused() {
		t.Error("expected paused after PauseInfoPolling")
	}
	c.ResumeInfoPolling()
	if c.InfoPollingPaused() {
		t.Error("expected unpaused after ResumeInfoPolling")
	}
}
