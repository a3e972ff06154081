package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
)

const readSize = 4096

var (
	// ErrTruncated means the upstream body ended before the provider's end
	// marker.
	ErrTruncated = errors.New("stream: provider ended without end marker")
	// ErrProviderFailure wraps an error event the provider sent in-band.
	ErrProviderFailure = errors.New("stream: provider reported error")
)

// Result summarizes one pumped stream for the usage reconciler.
type Result struct {
	Usage         domain.Usage
	UsageCaptured bool
	// Aborted is set when the client went away, the upstream read failed,
	// the provider reported an error in-band or the body ended before the
	// provider's end marker.
	Aborted    bool
	Deltas     int
	FirstToken time.Duration
	Err        error
}

// Pump copies body through a Normalizer into w, calling flush after every
// batch of frames. The end sentinel is written whenever the client is still
// reachable, including after a mid-stream provider failure, because the
// response headers are already committed by then.
func Pump(ctx context.Context, body io.Reader, format domain.WireFormat, w io.Writer, flush func()) Result {
	n := New(format)
	start := time.Now()

	var (
		res        Result
		clientGone bool
	)

	write := func(frames []string) bool {
		for _, f := range frames {
			if _, err := io.WriteString(w, f); err != nil {
				clientGone = true
				res.Aborted = true
				res.Err = err
				return false
			}
			if res.Deltas == 0 {
				res.FirstToken = time.Since(start)
			}
			res.Deltas++
		}
		if len(frames) > 0 && flush != nil {
			flush()
		}
		return true
	}

	buf := make([]byte, readSize)
	for {
		if err := ctx.Err(); err != nil {
			res.Aborted = true
			res.Err = err
			break
		}

		nr, err := body.Read(buf)
		if nr > 0 {
			if !write(n.Feed(buf[:nr])) {
				break
			}
			if msg := n.Failure(); msg != "" {
				slog.WarnContext(ctx, "provider reported error mid-stream", "format", format, "error", msg)
				res.Aborted = true
				res.Err = fmt.Errorf("%w: %s", ErrProviderFailure, msg)
				break
			}
		}
		if errors.Is(err, io.EOF) {
			if write(n.Flush()) && !n.Ended() {
				slog.WarnContext(ctx, "provider stream ended without end marker", "format", format)
				res.Aborted = true
				res.Err = ErrTruncated
			}
			break
		}
		if err != nil {
			res.Aborted = true
			res.Err = err
			if ctx.Err() == nil {
				slog.WarnContext(ctx, "provider stream read failed", "format", format, "error", err)
			}
			break
		}
	}

	res.Usage, res.UsageCaptured = n.Usage()

	if !clientGone && ctx.Err() == nil {
		if _, err := io.WriteString(w, DoneFrame); err == nil && flush != nil {
			flush()
		}
	}

	return res
}
