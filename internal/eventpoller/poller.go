// Package eventpoller long-polls the camera's event endpoint for the
// "added contents" notification that follows a takePhoto call (spec §4.4,
// C4).
package eventpoller

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/papamarky/pi-camera-control/internal/apierr"
	"github.com/papamarky/pi-camera-control/internal/cameraclient"
)

const component = "eventpoller"

// perPollTimeout bounds a single long-poll request; the camera's CCAPI
// event endpoint itself blocks server-side for roughly this long when
// there is nothing new to report.
const perPollTimeout = 30 * time.Second

// eventResponse mirrors CCAPI's /event/polling payload shape: a list of
// content URLs added since the last poll, among other fields this service
// does not need.
type eventResponse struct {
	AddedContents []string `json:"addedcontents"`
}

// Poller issues bounded long-polls against one camera client.
type Poller struct {
	client *cameraclient.Client
}

func New(client *cameraclient.Client) *Poller {
	return &Poller{client: client}
}

// PollForShot polls until addedcontents is non-empty, the deadline passes,
// or the camera goes unreachable. Grounded on the teacher's
// nvr.NVRPoller.pollNVR shape: a context.WithTimeout bounding the whole
// operation, not retried past its own deadline — but specialized here to a
// single-shot, deadline-bounded wait triggered once per takePhoto, rather
// than the teacher's periodic re-arming ticker poll.
func (p *Poller) PollForShot(ctx context.Context, shotID string, deadline time.Duration) ([]string, error) {
	overall, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	for {
		select {
		case <-overall.Done():
			return nil, apierr.New(component, "PollForShot", apierr.CameraTimeout,
				fmt.Sprintf("shot %s: no added-contents event within %s", shotID, deadline), overall.Err())
		default:
		}

		pollCtx, pollCancel := context.WithTimeout(overall, perPollTimeout)
		var resp eventResponse
		err := p.client.Do(pollCtx, "GET", p.client.EventPollPath(), &resp)
		pollCancel()

		if err != nil {
			if overall.Err() != nil {
				return nil, apierr.New(component, "PollForShot", apierr.CameraTimeout,
					fmt.Sprintf("shot %s: no added-contents event within %s", shotID, deadline), err)
			}
			return nil, apierr.New(component, "PollForShot", apierr.CameraOffline,
				fmt.Sprintf("shot %s: camera unreachable during event poll", shotID), err)
		}

		if len(resp.AddedContents) > 0 {
			return resp.AddedContents, nil
		}
		// Nothing new yet; CCAPI's long-poll already waited server-side, so
		// loop immediately rather than sleeping client-side too.
	}
}

// CanonicalFilename returns the basename of the first produced file, the
// shot's canonical filename per spec §4.4.
func CanonicalFilename(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	first := paths[0]
	if u, err := url.Parse(first); err == nil && u.Path != "" {
		first = u.Path
	}
	first = strings.TrimRight(first, "/")
	return path.Base(first)
}
