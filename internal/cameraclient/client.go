// Package cameraclient is the typed CCAPI client (spec §4.2, C2): a TLS
// HTTP/JSON client for the Canon CCAPI-class camera, with transport-vs-
// protocol failure classification and the pause/resume hooks the
// intervalometer needs while a long exposure is in flight.
package cameraclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/papamarky/pi-camera-control/internal/apierr"
)

const component = "cameraclient"

const maxTransportFailures = 3

// Setting is a camera setting's current value plus its ability list
// (the set of values CCAPI will accept for it).
type Setting struct {
	Value   any   `json:"value"`
	Ability []any `json:"ability"`
}

// ConnectionStatus mirrors GET .../deviceinformation plus the client's own
// bookkeeping of liveness, per spec §4.2.
type ConnectionStatus struct {
	Connected           bool
	IP                  string
	Port                int
	Model               string
	ConsecutiveFailures int
}

// StorageInfo is the {mounted, totalBytes, freeBytes, contentCount,
// accessMode} shape of spec §4.2/§8: an empty storagelist means no card.
type StorageInfo struct {
	Mounted      bool
	TotalBytes   int64
	FreeBytes    int64
	ContentCount int
	AccessMode   string
}

type storageListResponse struct {
	StorageList []struct {
		Name              string `json:"name"`
		MaxSize           int64  `json:"maxsize"`
		SpaceSize         int64  `json:"spacesize"`
		ContentsNumber    int    `json:"contentsnumber"`
		AccessCapability  string `json:"accesscapability"`
	} `json:"storagelist"`
}

// Client talks CCAPI over HTTPS, accepting the camera's self-signed cert.
type Client struct {
	baseURL string
	http    *http.Client

	mu                  sync.Mutex
	consecutiveFailures int
	model               string
	shutterSpeed        string

	infoPollingPaused       atomic.Bool
	connectionMonitorPaused atomic.Bool

	abilityCache *lru.Cache[string, []any]
}

// shutterSpeedSettingKey is CCAPI's "tv" (Time Value) setting, the shutter
// speed shown under /shooting/settings.
const shutterSpeedSettingKey = "tv"

// New builds a client for the camera at https://ip:port/ccapi/<ver>.
func New(ip string, port int, apiVersion string) *Client {
	cache, _ := lru.New[string, []any](64)
	return &Client{
		baseURL: fmt.Sprintf("https://%s:%d/ccapi/%s", ip, port, apiVersion),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // camera certs are self-signed, per spec §4.2
				// Keep-alive is the default for http.Transport; the camera
				// expects a reused connection rather than one per request.
			},
		},
		abilityCache: cache,
	}
}

// NewTestClient points a client at an arbitrary base URL (typically an
// httptest.Server) with certificate verification disabled, for tests in
// other packages that need a working *Client without a real camera.
func NewTestClient(baseURL string) *Client {
	cache, _ := lru.New[string, []any](64)
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // test-only
			},
		},
		abilityCache: cache,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apierr.New(component, path, apierr.InvalidParameter, "failed to encode request body", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apierr.New(component, path, apierr.OperationFailed, "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordTransportFailure()
		return apierr.New(component, path, apierr.CameraOffline, "camera unreachable", err)
	}
	defer resp.Body.Close()

	c.recordTransportSuccess()

	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusConflict {
		return apierr.New(component, path, apierr.CameraBusy, "camera rejected the request", nil)
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return apierr.New(component, path, apierr.ValidationFailed, fmt.Sprintf("camera returned %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierr.New(component, path, apierr.OperationFailed, "failed to decode camera response", err)
	}
	return nil
}

func (c *Client) recordTransportFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFailures++
}

func (c *Client) recordTransportSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFailures = 0
}

// ConnectionLost reports whether three consecutive transport failures have
// been observed, the threshold at which discovery (C3) should be notified.
func (c *Client) ConnectionLost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveFailures >= maxTransportFailures
}

func (c *Client) GetConnectionStatus(ctx context.Context) (ConnectionStatus, error) {
	var info struct {
		Manufacturer string `json:"manufacturer"`
		ProductName  string `json:"productname"`
	}
	err := c.do(ctx, http.MethodGet, "/deviceinformation", nil, &info)
	c.mu.Lock()
	failures := c.consecutiveFailures
	c.mu.Unlock()
	if err != nil {
		return ConnectionStatus{Connected: false, ConsecutiveFailures: failures}, err
	}
	c.mu.Lock()
	c.model = info.ProductName
	c.mu.Unlock()
	return ConnectionStatus{Connected: true, Model: info.ProductName, ConsecutiveFailures: failures}, nil
}

func (c *Client) GetCameraSettings(ctx context.Context) (map[string]Setting, error) {
	var raw map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/shooting/settings", nil, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]Setting, len(raw))
	for k, v := range raw {
		var s Setting
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			if c.abilityCache != nil {
				c.abilityCache.Add(k, s.Ability)
			}
			if k == shutterSpeedSettingKey {
				if sv, ok := s.Value.(string); ok {
					c.mu.Lock()
					c.shutterSpeed = sv
					c.mu.Unlock()
				}
			}
		}
	}
	return out, nil
}

// parseShutterSeconds converts a CCAPI "tv" value to seconds. CCAPI encodes
// shutter speed as a plain fraction ("1/125"), a quote-terminated seconds
// count ("30\""), or "bulb" for an operator-held exposure with no fixed
// duration. bulb and anything unrecognized report ok=false so callers fall
// back to their own floor instead of rejecting a valid interval.
func parseShutterSeconds(v string) (float64, bool) {
	if v == "" || v == "bulb" {
		return 0, false
	}
	if strings.HasSuffix(v, "\"") {
		secs, err := strconv.ParseFloat(strings.TrimSuffix(v, "\""), 64)
		if err != nil {
			return 0, false
		}
		return secs, true
	}
	if num, den, ok := strings.Cut(v, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, false
		}
		return n / d, true
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return secs, true
}

func (c *Client) SetCameraSetting(ctx context.Context, key string, value any) error {
	ability, ok := c.abilityCache.Get(key)
	if ok && !valueInAbility(value, ability) {
		return apierr.New(component, "setCameraSetting", apierr.ValidationFailed, fmt.Sprintf("value not in ability for %s", key), nil)
	}
	return c.do(ctx, http.MethodPut, "/shooting/settings/"+key, map[string]any{"value": value}, nil)
}

func valueInAbility(value any, ability []any) bool {
	for _, a := range ability {
		if fmt.Sprint(a) == fmt.Sprint(value) {
			return true
		}
	}
	return false
}

// TakePhoto issues the shutter command. Completion of the shot is observed
// separately via the event poller (C4) — this call only confirms the
// camera acknowledged it.
func (c *Client) TakePhoto(ctx context.Context, af bool) error {
	return c.do(ctx, http.MethodPost, "/shooting/control/shutterbutton", map[string]bool{"af": af}, nil)
}

// ValidateInterval checks the requested interval against the camera's
// current shutter/processing time (spec §4.2). GetCameraSettings caches the
// camera's "tv" (shutter speed) value as it's polled, so this doesn't issue
// a request of its own; it only consults what's already cached, falling
// back to a conservative floor when no shutter value has been cached yet
// or the cached value is "bulb"/unparseable.
func (c *Client) ValidateInterval(ctx context.Context, seconds float64) (valid bool, reason string, err error) {
	if seconds <= 0 {
		return false, "interval must be greater than zero", nil
	}

	const minPracticalInterval = 1.0

	c.mu.Lock()
	shutter := c.shutterSpeed
	c.mu.Unlock()

	if shutterSecs, ok := parseShutterSeconds(shutter); ok {
		if seconds < shutterSecs {
			return false, fmt.Sprintf("interval %.1fs is shorter than the camera's current shutter speed of %.1fs", seconds, shutterSecs), nil
		}
		return true, "", nil
	}

	if seconds < minPracticalInterval {
		return false, fmt.Sprintf("interval below camera's minimum practical interval of %.1fs", minPracticalInterval), nil
	}
	return true, "", nil
}

func (c *Client) GetStorageInfo(ctx context.Context) (StorageInfo, error) {
	var resp storageListResponse
	if err := c.do(ctx, http.MethodGet, "/devicestatus/storage", nil, &resp); err != nil {
		return StorageInfo{}, err
	}
	if len(resp.StorageList) == 0 {
		return StorageInfo{Mounted: false}, nil
	}
	s := resp.StorageList[0]
	return StorageInfo{
		Mounted:      true,
		TotalBytes:   s.MaxSize,
		FreeBytes:    s.SpaceSize,
		ContentCount: s.ContentsNumber,
		AccessMode:   s.AccessCapability,
	}, nil
}

func (c *Client) GetCameraDateTime(ctx context.Context) (time.Time, error) {
	var resp struct {
		DateTime string `json:"datetime"`
	}
	if err := c.do(ctx, http.MethodGet, "/functions/datetime", nil, &resp); err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, resp.DateTime)
}

func (c *Client) SetCameraDateTime(ctx context.Context, t time.Time) error {
	return c.do(ctx, http.MethodPut, "/functions/datetime", map[string]string{"datetime": t.Format(time.RFC3339)}, nil)
}

// PauseInfoPolling / ResumeInfoPolling and PauseConnectionMonitoring /
// ResumeConnectionMonitoring are hooks the intervalometer calls so
// background probes don't interleave with a long exposure (spec §4.2).
// The flags are read by the caller's own polling loop, not enforced here.
func (c *Client) PauseInfoPolling()               { c.infoPollingPaused.Store(true) }
func (c *Client) ResumeInfoPolling()               { c.infoPollingPaused.Store(false) }
func (c *Client) InfoPollingPaused() bool          { return c.infoPollingPaused.Load() }
func (c *Client) PauseConnectionMonitoring()       { c.connectionMonitorPaused.Store(true) }
func (c *Client) ResumeConnectionMonitoring()      { c.connectionMonitorPaused.Store(false) }
func (c *Client) ConnectionMonitoringPaused() bool { return c.connectionMonitorPaused.Load() }

// EventPollPath is the long-poll endpoint the event poller (C4) consumes.
func (c *Client) EventPollPath() string { return "/event/polling?continue=on" }

// Do exposes the raw request path for components (the event poller) that
// need response shapes this client doesn't model directly.
func (c *Client) Do(ctx context.Context, method, path string, out any) error {
	return c.do(ctx, method, path, nil, out)
}
