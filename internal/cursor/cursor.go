// Package cursor implements the segmented read head that lets the PS
// framer treat an ordered array of RTP fragments as one logical byte
// stream, without copying except where a field straddles a fragment
// boundary.
package cursor

import "fmt"

// defaultScratchCap bounds the stitching buffer GET uses when a requested
// span crosses one or more fragment boundaries, for cursors built with
// New. NewWithScratchCap takes the cap as a construction parameter
// (spec §9: "surface the 2000-byte scratch cap as a construction
// parameter").
const defaultScratchCap = 2000

// Status is the small closed error enum the cursor and its callers use
// instead of ad-hoc errors (spec §7).
type Status int

const (
	OK Status = iota
	StatusEOF
	StatusTooSmall
	StatusBug
)

func (s Status) Error() string {
	switch s {
	case OK:
		return "ok"
	case StatusEOF:
		return "eof"
	case StatusTooSmall:
		return "too small"
	case StatusBug:
		return "bug: cursor invariant violated"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Fragment is one RTP payload: one input buffer to the core (spec §3).
type Fragment struct {
	Buf       []byte
	Seq       uint16
	Timestamp uint32
}

// Accumulator is the output byte buffer the PS framer fills with annex-B
// data for one frame (spec §3, "Accumulator"). Its capacity is fixed at
// construction; COPY never grows it — exceeding capacity is an error, not
// a truncation (spec §3 invariant).
type Accumulator struct {
	buf  []byte
	fill int
}

// NewAccumulator allocates an accumulator with the given fixed capacity.
func NewAccumulator(capacity int) *Accumulator {
	return &Accumulator{buf: make([]byte, capacity)}
}

// Cap returns the accumulator's fixed capacity.
func (a *Accumulator) Cap() int { return len(a.buf) }

// Fill returns the number of bytes written so far.
func (a *Accumulator) Fill() int { return a.fill }

// Bytes returns the written prefix of the accumulator. The slice aliases
// the accumulator's internal storage and is only valid until the next
// Reset.
func (a *Accumulator) Bytes() []byte { return a.buf[:a.fill] }

// Reset empties the accumulator for reuse across frames.
func (a *Accumulator) Reset() { a.fill = 0 }

// Append copies src into the accumulator, failing StatusTooSmall without
// mutating fill if there isn't room. Used directly by components (such
// as h264depack) that build annex-B output from already-in-memory bytes
// rather than from a Cursor.
func (a *Accumulator) Append(src []byte) Status {
	if a.fill+len(src) > len(a.buf) {
		return StatusTooSmall
	}
	copy(a.buf[a.fill:], src)
	a.fill += len(src)
	return OK
}

// Cursor is a read head over an ordered sequence of fragments (spec §4.1).
type Cursor struct {
	fragments []Fragment
	idx       int
	pos       int // offset within fragments[idx].Buf of the next unread byte
	scratch   []byte
	scratchN  int
}

// New builds a cursor over fragments with the default 2000-byte scratch
// cap.
func New(fragments []Fragment) *Cursor {
	return NewWithScratchCap(fragments, defaultScratchCap)
}

// NewWithScratchCap builds a cursor with an explicit scratch capacity.
func NewWithScratchCap(fragments []Fragment, scratchCap int) *Cursor {
	c := &Cursor{fragments: fragments, scratch: make([]byte, scratchCap)}
	c.skipEmptyFragments()
	return c
}

// skipEmptyFragments advances idx past any zero-length fragments so that
// "current fragment empty" and "cursor exhausted" aren't confused.
func (c *Cursor) skipEmptyFragments() {
	for c.idx < len(c.fragments) && c.pos >= len(c.fragments[c.idx].Buf) {
		c.idx++
		c.pos = 0
	}
}

// Empty reports whether the cursor has no more bytes to deliver.
func (c *Cursor) Empty() bool {
	c.skipEmptyFragments()
	return c.idx >= len(c.fragments)
}

// remaining returns bytes left in the current fragment (0 if exhausted).
func (c *Cursor) remaining() int {
	if c.idx >= len(c.fragments) {
		return 0
	}
	return len(c.fragments[c.idx].Buf) - c.pos
}

// AvailableInFragment returns the number of bytes left in the fragment the
// cursor is currently positioned in (0 if exhausted). Used by callers that
// need to split a field at a fragment boundary instead of failing EOF
// outright (spec §9's video-PES fragment-boundary resolution).
func (c *Cursor) AvailableInFragment() int {
	c.skipEmptyFragments()
	return c.remaining()
}

// CurrentSeq returns the sequence number of the fragment the cursor is
// currently positioned in, and ok=false if the cursor is exhausted. Used
// by callers constructing diagnostic context on parse errors (spec §7).
func (c *Cursor) CurrentSeq() (seq uint16, ok bool) {
	if c.idx >= len(c.fragments) {
		return 0, false
	}
	return c.fragments[c.idx].Seq, true
}

// advance moves the cursor forward by n bytes, which must not exceed the
// total bytes remaining across all fragments; the caller is responsible
// for having already verified availability.
func (c *Cursor) advance(n int) {
	for n > 0 {
		avail := c.remaining()
		if avail == 0 {
			// Exhausted mid-advance: a BUG, not reachable if callers
			// checked availability first.
			return
		}
		take := avail
		if take > n {
			take = n
		}
		c.pos += take
		n -= take
		c.skipEmptyFragments()
	}
}

// availableTotal reports how many bytes remain across the whole fragment
// array from the current position, capped at limit (pass a negative
// limit for "no cap") to avoid summing unboundedly large arrays.
func (c *Cursor) availableTotal(limit int) int {
	total := 0
	rem := c.remaining()
	total += rem
	for i := c.idx + 1; i < len(c.fragments); i++ {
		if limit >= 0 && total >= limit {
			break
		}
		total += len(c.fragments[i].Buf)
	}
	return total
}

// Get reads exactly n bytes, returning a slice that aliases the current
// fragment directly when the span doesn't cross a boundary, or the
// cursor's scratch buffer when it does. The returned slice is only valid
// until the next Get call that requires stitching. Fails StatusTooSmall
// if n exceeds the scratch capacity, StatusEOF if fragments exhaust
// before n bytes are gathered.
func (c *Cursor) Get(n int) ([]byte, Status) {
	if n == 0 {
		return nil, OK
	}
	if c.remaining() >= n {
		out := c.fragments[c.idx].Buf[c.pos : c.pos+n]
		c.advance(n)
		return out, OK
	}
	if n > len(c.scratch) {
		return nil, StatusTooSmall
	}
	if c.availableTotal(n) < n {
		return nil, StatusEOF
	}
	c.scratchN = 0
	need := n
	for need > 0 {
		rem := c.remaining()
		if rem == 0 {
			// availableTotal already proved enough bytes exist; reaching
			// this means the bookkeeping above is inconsistent.
			return nil, StatusBug
		}
		take := rem
		if take > need {
			take = need
		}
		copy(c.scratch[c.scratchN:], c.fragments[c.idx].Buf[c.pos:c.pos+take])
		c.scratchN += take
		need -= take
		c.advance(take)
	}
	return c.scratch[:n], OK
}

// Seek advances the cursor by n bytes without copying. Crosses fragment
// boundaries. Fails StatusEOF if fragments exhaust before n bytes are
// consumed (landing exactly on the last byte of the last fragment is a
// legal terminal state, not an error).
func (c *Cursor) Seek(n int) Status {
	if n == 0 {
		return OK
	}
	if c.availableTotal(n) < n {
		return StatusEOF
	}
	c.advance(n)
	return OK
}

// Copy appends exactly n bytes of cursor data to acc, crossing fragment
// boundaries as needed. Fails StatusTooSmall if acc can't hold n more
// bytes (acc is left unmutated), StatusEOF if fragments exhaust first.
func (c *Cursor) Copy(n int, acc *Accumulator) Status {
	if n == 0 {
		return OK
	}
	if acc.fill+n > len(acc.buf) {
		return StatusTooSmall
	}
	if c.availableTotal(n) < n {
		return StatusEOF
	}
	need := n
	for need > 0 {
		rem := c.remaining()
		take := rem
		if take > need {
			take = need
		}
		if st := acc.Append(c.fragments[c.idx].Buf[c.pos : c.pos+take]); st != OK {
			return st
		}
		need -= take
		c.advance(take)
	}
	return OK
}
