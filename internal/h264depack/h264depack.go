// Package h264depack implements the H.264 depacketizer contract of
// spec.md §4.3: given one NAL unit payload extracted from a video PES, it
// appends the canonical annex-B representation to an output accumulator,
// honoring the three RTP H.264 packing modes (single NAL, STAP-A, FU-A).
//
// Grounded on the teacher's internal/rtp_processor.go (processH264Packet)
// and internal/h264_stream_processor.go (handleH264Packet), generalized
// to a configured PackingMode rather than being hardwired to one mode,
// and retargeted to append into a cursor.Accumulator instead of an
// io.Writer.
package h264depack

import (
	"github.com/nvr-edge/ps-h264-bridge/internal/cursor"
)

// PackingMode selects which RTP H.264 packetization the depacketizer
// expects on its input (spec §4.3: "consulting a configured
// packetization mode at construction time").
type PackingMode int

const (
	// ModeSingleNAL treats the entire payload as one NAL unit. The PS
	// framer always uses this mode: a video PES payload is already a
	// complete NAL, not an RTP-fragmented one (spec §4.2, Video PES row).
	ModeSingleNAL PackingMode = iota
	// ModeSTAPA treats the payload as a STAP-A aggregation of NAL units.
	ModeSTAPA
	// ModeFUA treats the payload as one fragment of an FU-A fragmented
	// NAL unit; callers must feed start/middle/end fragments in order.
	ModeFUA
)

var startCode3 = []byte{0x00, 0x00, 0x01}

// NAL unit type field, low 5 bits of the first payload byte (RFC 6184).
const (
	nalTypeMask  = 0x1F
	nalTypeSTAPA = 24
	nalTypeFUA   = 28
)

// Depacketizer accumulates one PackingMode's worth of RTP H.264 framing
// into annex-B NAL units. The PS framer always constructs it with
// ModeSingleNAL; the other two modes are implemented for the general
// contract and are exercised only by this package's tests.
type Depacketizer struct {
	mode PackingMode

	// fuaActive/fuaHeader/fuaBuf track in-progress FU-A reassembly
	// across calls to Unpack when mode == ModeFUA.
	fuaActive bool
	fuaHeader byte
	fuaBuf    []byte
}

// New creates a Depacketizer for the given packing mode.
func New(mode PackingMode) *Depacketizer {
	return &Depacketizer{mode: mode}
}

// Unpack appends the annex-B representation of nalUnit to out, per the
// depacketizer's configured packing mode. Returns cursor.StatusTooSmall
// if out lacks room, cursor.StatusBug on a malformed FU-A/STAP-A payload
// whose length fields don't fit the buffer (never read past payload end).
func (d *Depacketizer) Unpack(nalUnit []byte, out *cursor.Accumulator) cursor.Status {
	if len(nalUnit) == 0 {
		return cursor.OK
	}

	switch d.mode {
	case ModeSTAPA:
		return d.unpackSTAPA(nalUnit, out)
	case ModeFUA:
		return d.unpackFUA(nalUnit, out)
	default:
		return appendAnnexB(out, nalUnit)
	}
}

func appendAnnexB(out *cursor.Accumulator, nal []byte) cursor.Status {
	if out.Fill()+len(startCode3)+len(nal) > out.Cap() {
		return cursor.StatusTooSmall
	}
	out.Append(startCode3)
	out.Append(nal)
	return cursor.OK
}

// unpackSTAPA splits a STAP-A aggregation into its constituent NAL units
// and annex-B-appends each (RFC 6184 §5.7.1).
func (d *Depacketizer) unpackSTAPA(payload []byte, out *cursor.Accumulator) cursor.Status {
	offset := 1 // skip the STAP-A indicator byte
	for offset+2 <= len(payload) {
		size := int(payload[offset])<<8 | int(payload[offset+1])
		offset += 2
		if offset+size > len(payload) {
			return cursor.StatusBug
		}
		if st := appendAnnexB(out, payload[offset:offset+size]); st != cursor.OK {
			return st
		}
		offset += size
	}
	return cursor.OK
}

// unpackFUA reassembles one fragment of an FU-A NAL unit (RFC 6184
// §5.8). On the start fragment it resets internal state and emits
// nothing until the end fragment completes the NAL, at which point the
// full reconstructed NAL is annex-B-appended to out.
func (d *Depacketizer) unpackFUA(payload []byte, out *cursor.Accumulator) cursor.Status {
	if len(payload) < 2 {
		return cursor.StatusBug
	}
	fuIndicator, fuHeader := payload[0], payload[1]
	isStart := fuHeader&0x80 != 0
	isEnd := fuHeader&0x40 != 0

	if isStart {
		d.fuaActive = true
		d.fuaHeader = (fuIndicator & 0xE0) | (fuHeader & nalTypeMask)
		d.fuaBuf = append(d.fuaBuf[:0], d.fuaHeader)
	}
	if !d.fuaActive {
		// A middle/end fragment with no preceding start: discard, not a
		// hard failure — the next start fragment resynchronizes.
		return cursor.OK
	}
	if len(payload) > 2 {
		d.fuaBuf = append(d.fuaBuf, payload[2:]...)
	}
	if !isEnd {
		return cursor.OK
	}
	d.fuaActive = false
	nal := d.fuaBuf
	d.fuaBuf = nil
	return appendAnnexB(out, nal)
}
