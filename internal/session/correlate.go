package session

import (
	"context"
	"fmt"

	"github.com/eegkit/muselink/internal/stream"
	"github.com/eegkit/muselink/internal/transport"
)

// ControlResponse is one decoded control-channel response object.
type ControlResponse map[string]interface{}

// FirmwareVersion returns the firmware field of an info response, ok=false if
// the response carries none.
func (r ControlResponse) FirmwareVersion() (string, bool) {
	fw, ok := r["fw"].(string)
	return fw, ok
}

// waitMatch resolves with the first response on sub satisfying match.
// Single-shot: the caller owns the subscription and cancels it afterwards;
// responses delivered before the subscription existed are never seen.
//
// Fails with ErrResponseStreamClosed when the session disconnects (done
// closes, or the stream itself terminates) and with ErrTimeout when ctx
// expires first.
func waitMatch(ctx context.Context, done <-chan struct{}, sub *stream.Subscription[ControlResponse], match func(ControlResponse) bool) (ControlResponse, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", transport.ErrTimeout, ctx.Err())
		case <-done:
			return nil, transport.ErrResponseStreamClosed
		case resp, ok := <-sub.C():
			if !ok {
				return nil, transport.ErrResponseStreamClosed
			}
			if match(resp) {
				return resp, nil
			}
		}
	}
}
