// Package ps implements the MPEG Program Stream framer: the state
// machine that recognises PS start codes and dispatches by stream-id
// byte to pack-header, system-header, PSM, video-PES, audio-PES, or
// PS-tail handling, accumulating H.264 NAL data for one frame (spec.md
// §4.2).
package ps

import (
	"fmt"

	"github.com/nvr-edge/ps-h264-bridge/internal/cursor"
)

// Status is the closed error taxonomy spec.md §7 defines. It implements
// error so callers that don't need the classification can treat it as a
// plain Go error.
type Status int

const (
	OK Status = iota
	Inval
	TooSmall
	EOF
	Bug
	Unsup
	DecoderFailed
)

func (s Status) Error() string {
	switch s {
	case OK:
		return "ok"
	case Inval:
		return "inval: structural parse error"
	case TooSmall:
		return "too_small: accumulator or scratch overflow"
	case EOF:
		return "eof: cursor exhausted mid-field"
	case Bug:
		return "bug: invariant violated"
	case Unsup:
		return "unsup: codec/direction/packing not served"
	case DecoderFailed:
		return "decoder_failed: downstream decoder rejected the buffer"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// fromCursor maps the cursor's narrower status taxonomy onto ps.Status.
func fromCursor(s cursor.Status) Status {
	switch s {
	case cursor.OK:
		return OK
	case cursor.StatusEOF:
		return EOF
	case cursor.StatusTooSmall:
		return TooSmall
	case cursor.StatusBug:
		return Bug
	default:
		return Bug
	}
}
