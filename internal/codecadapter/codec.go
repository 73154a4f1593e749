package codecadapter

import (
	"sync"

	"github.com/nvr-edge/ps-h264-bridge/internal/cursor"
	"github.com/nvr-edge/ps-h264-bridge/internal/fmtp"
	"github.com/nvr-edge/ps-h264-bridge/internal/obs"
	"github.com/nvr-edge/ps-h264-bridge/internal/ps"
	"github.com/nvr-edge/ps-h264-bridge/internal/videoruntime"
)

// MTU bounds applied at Open (SPEC_FULL §12.1, from original_source/'s
// implementation-defined maximum).
const (
	defaultMaxMTU = 1500
	minMTU        = 256
)

// OpenParams configures a codec instance (spec §4.4's "open(codec, param)").
type OpenParams struct {
	Dir Direction
	// Fmtp is the negotiated a=fmtp value line (without "a=fmtp:<pt> "
	// prefix) — typically parsed from SDP by internal/fmtp beforehand and
	// passed through here, or left empty to fall back to the descriptor's
	// DefaultFmtp.
	Fmtp string
	// MaxFrameBytes sizes the per-codec input/output buffers. Zero means
	// "use a size derived from the descriptor's frame dimensions."
	MaxFrameBytes int
	// MTU is recorded on the codec, capped at defaultMaxMTU. Zero or a
	// negative value selects defaultMaxMTU; a positive value below minMTU
	// makes Open fail Unsup.
	MTU int
	// CalleeID threads through to the installed Callback on I-frame
	// completion (spec §9's resolution of the cname-via-buffer open
	// question).
	CalleeID string
}

// Codec is one adapter instance (spec §3 "Codec Instance"): the
// parameter snapshot, input/output buffers, decoder context handle, and
// packing mode a single RTP stream drives through its lifetime.
type Codec struct {
	id         int
	factory    *Factory
	descriptor Descriptor

	mu sync.Mutex

	opened   bool
	params   OpenParams
	fmtp     fmtp.Params
	mtu      int
	decoder  videoruntime.Decoder
	acc      *cursor.Accumulator
	framer   *ps.Framer
	validate *validator

	seenKeyframe    bool
	lastWidth       int
	lastHeight      int
	lastKeyframeSeq uint32
}

// ID returns the factory-scoped identifier this instance is registered
// under (spec §9: resolved by index, not held as a pointer by peers).
func (c *Codec) ID() int { return c.id }

// Open allocates decoder/accumulator state, applies fmtp, and clamps
// MTU (spec §4.4; SPEC_FULL §12.1 for the MTU clamp specifics).
func (c *Codec) Open(p OpenParams) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return OK
	}
	if p.Dir == DirEncode {
		return Unsup
	}

	mtu := p.MTU
	if mtu <= 0 {
		mtu = defaultMaxMTU
	}
	if mtu < minMTU {
		return Unsup
	}
	if mtu > defaultMaxMTU {
		mtu = defaultMaxMTU
	}

	fmtpLine := p.Fmtp
	if fmtpLine == "" {
		fmtpLine = c.descriptor.DefaultFmtp
	}
	parsed := fmtp.Parse(fmtpLine)

	maxFrame := p.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = c.descriptor.FrameWidth * c.descriptor.FrameHeight * 3 / 2
	}

	decoder, err := c.factory.openDecoder()
	if err != nil {
		obs.Errorf("codecadapter: open decoder context: %v", err)
		return DecoderFailed
	}

	c.params = p
	c.fmtp = parsed
	c.mtu = mtu
	c.decoder = decoder
	c.acc = cursor.NewAccumulator(maxFrame)
	c.framer = &ps.Framer{StrictCodecMatch: c.descriptor.StrictCodecMatch}
	c.validate = newValidator(c.descriptor.FrameWidth, c.descriptor.FrameHeight)
	c.opened = true

	obs.Debugf("codecadapter[%d]: opened mtu=%d fmtp=%s", c.id, mtu, parsed)
	return OK
}

// Decode constructs Frame Assembly State over fragments, runs the PS
// framer, and dispatches per spec §4.2.2: a completed I-frame with a
// callback installed is handed to the callback and the decoder is
// skipped entirely (the "key-frame short-circuit" property of spec §8);
// everything else goes to decode_whole.
func (c *Codec) Decode(fragments []cursor.Fragment) (*videoruntime.Frame, Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return nil, Bug
	}
	c.acc.Reset()

	state := ps.NewState(fragments, c.acc, c.params.CalleeID)
	if status := c.framer.Unpack(state); status != OK {
		obs.Warnf("codecadapter[%d]: parse failed: %v", c.id, status)
		return nil, status
	}

	if state.IsIFrame && c.factory.hasCallback() {
		c.factory.runCallback(c.acc.Bytes(), state.VideoCodecID.String(), c.params.CalleeID)
		return nil, OK
	}

	return c.decodeWholeLocked(c.acc.Bytes(), state.IsIFrame)
}

// decodeWholeLocked wraps one synchronous external-decoder call (spec
// §4.4's decode_whole), classifying its result for FMT_CHANGED and
// KEYFRAME_FOUND/MISSING events. Must be called with c.mu held.
func (c *Codec) decodeWholeLocked(annexB []byte, isKeyframe bool) (*videoruntime.Frame, Status) {
	frame, err := c.decoder.Decode(annexB)
	if err != nil {
		obs.Errorf("codecadapter[%d]: decoder rejected buffer: %v", c.id, err)
		c.factory.publish(Event{Kind: EventKeyframeMissing, Codec: c.id})
		return nil, DecoderFailed
	}
	if frame == nil {
		return nil, OK
	}

	if frame.Width != c.lastWidth || frame.Height != c.lastHeight {
		c.lastWidth, c.lastHeight = frame.Width, frame.Height
		c.validate.updateResolution(frame.Width, frame.Height)
		c.factory.publish(Event{Kind: EventFmtChanged, Codec: c.id, Width: frame.Width, Height: frame.Height})
	}

	result := c.validate.validate(frame, isKeyframe)
	if !result.isValid {
		obs.Warnf("codecadapter[%d]: decoded frame flagged %s", c.id, result.reason)
		if c.validate.shouldWaitForKeyframe() {
			obs.Warnf("codecadapter[%d]: too many consecutive invalid frames, waiting for keyframe", c.id)
			c.factory.publish(Event{Kind: EventKeyframeMissing, Codec: c.id})
			return nil, DecoderFailed
		}
	}

	if isKeyframe {
		c.seenKeyframe = true
	}
	if c.seenKeyframe {
		c.factory.publish(Event{Kind: EventKeyframeFound, Codec: c.id})
	} else {
		c.factory.publish(Event{Kind: EventKeyframeMissing, Codec: c.id})
	}

	return frame, OK
}

// Close releases the decoder context under the factory mutex;
// idempotent (spec §4.4).
func (c *Codec) Close() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factory.mu.Lock()
	defer c.factory.mu.Unlock()
	c.closeLocked()
	return OK
}

func (c *Codec) closeLocked() {
	if !c.opened {
		return
	}
	if c.decoder != nil {
		if err := c.decoder.Close(); err != nil {
			obs.Warnf("codecadapter[%d]: decoder close: %v", c.id, err)
		}
		c.decoder = nil
	}
	c.opened = false
}

// Free releases the factory registry slot. Idempotent.
func (c *Codec) Free() Status {
	c.Close()
	c.factory.free(c.id)
	return OK
}

func (f *Factory) hasCallback() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callback != nil
}
