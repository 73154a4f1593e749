package ps

import (
	"github.com/nvr-edge/ps-h264-bridge/internal/cursor"
	"github.com/nvr-edge/ps-h264-bridge/internal/h264depack"
)

// State is the per-decode scratch spec.md §3 calls "Frame Assembly
// State": created on entry to a decode call, dropped on exit. It owns
// the cursor over the caller's fragment array and the output
// accumulator the framer fills with annex-B NAL data.
type State struct {
	cur *cursor.Cursor
	acc *cursor.Accumulator

	// IsIFrame is set exactly when a system-header or PSM start code is
	// seen before the first video PES of this frame (spec §3 invariant).
	IsIFrame bool
	// TotalVideoPESLen accumulates each video PES's declared payload
	// length (spec §4.2, Video PES row), adjusted by -1 whenever a PES
	// payload carries a redundant 4-byte NAL start prefix.
	TotalVideoPESLen int
	// VideoCodecID / AudioCodecID are resolved from the Program Stream
	// Map (spec §4.2.1).
	VideoCodecID CodecID
	AudioCodecID CodecID
	// CalleeID is an optional caller-supplied identifier, up to 256
	// bytes, threaded through to the parser callback (spec §6, and §9's
	// resolution of the cname-via-output-buffer open question).
	CalleeID string

	seenVideoPES bool
	depack       *h264depack.Depacketizer
}

// NewState creates Frame Assembly State over fragments, writing into acc.
// calleeID is optional caller context, capped at 256 bytes per spec §6.
func NewState(fragments []cursor.Fragment, acc *cursor.Accumulator, calleeID string) *State {
	if len(calleeID) > 256 {
		calleeID = calleeID[:256]
	}
	return &State{
		cur:    cursor.New(fragments),
		acc:    acc,
		depack: h264depack.New(h264depack.ModeSingleNAL),
		CalleeID: calleeID,
	}
}

// Accumulator returns the output buffer the framer has been filling.
func (s *State) Accumulator() *cursor.Accumulator { return s.acc }
