package ps

import (
	"encoding/binary"

	"github.com/nvr-edge/ps-h264-bridge/internal/cursor"
	"github.com/nvr-edge/ps-h264-bridge/internal/obs"
)

// Start-code stream-id bytes (spec §4.2, §6: "ISO/IEC 13818-1").
const (
	streamIDPackHeader   = 0xBA
	streamIDSystemHeader = 0xBB
	streamIDPSM          = 0xBC
	streamIDVideo        = 0xE0
	streamIDAudio        = 0xC0
	streamIDPrivateTail  = 0xBD
)

// Framer runs the PS start-code dispatch loop of spec.md §4.2.
type Framer struct {
	// StrictCodecMatch, when true, fails UNSUP on a PSM-declared MPEG-4
	// video stream instead of silently depacketizing it as H.264
	// (SPEC_FULL §12.4, resolving spec §9's third open question). Other
	// declared video codecs (SVAC, recorded as CodecNone) are not rejected.
	StrictCodecMatch bool
}

// New creates a Framer with the original source's default behavior:
// MPEG-4-declared video is still routed through H.264 depacketization.
func New() *Framer {
	return &Framer{}
}

// Unpack consumes fragments from state until the cursor exhausts,
// writing annex-B NAL data to state's accumulator. Returns OK on clean
// exhaustion, Inval on structural error, EOF if the cursor runs out
// mid-field, TooSmall if the accumulator overflows.
func (f *Framer) Unpack(st *State) Status {
	for !st.cur.Empty() {
		hdr, cs := st.cur.Get(4)
		if cs != cursor.OK {
			return f.fail(st, fromCursor(cs), "reading start code")
		}
		if hdr[0] != 0x00 || hdr[1] != 0x00 || hdr[2] != 0x01 {
			return f.fail(st, Inval, "expected start code 00 00 01 xx, got % x", hdr)
		}

		switch hdr[3] {
		case streamIDPackHeader:
			if status := f.parsePackHeader(st); status != OK {
				return status
			}
		case streamIDSystemHeader:
			if status := f.parseSystemHeader(st); status != OK {
				return status
			}
		case streamIDPSM:
			if status := f.parsePSM(st); status != OK {
				return status
			}
		case streamIDVideo:
			if status := f.parseVideoPES(st); status != OK {
				return status
			}
		case streamIDAudio:
			if status := f.parseAudioPES(st); status != OK {
				return status
			}
		case streamIDPrivateTail:
			if status := f.parsePrivateTail(st); status != OK {
				return status
			}
		default:
			return f.fail(st, Inval, "unknown stream id 0x%02x", hdr[3])
		}
	}
	return OK
}

func (f *Framer) fail(st *State, status Status, format string, args ...interface{}) Status {
	seq, ok := st.cur.CurrentSeq()
	if ok {
		obs.Warnf(format+" (fragment seq=%d)", append(args, seq)...)
	} else {
		obs.Warnf(format+" (fragment exhausted)", args...)
	}
	return status
}

func be16(b []byte) int { return int(binary.BigEndian.Uint16(b)) }

// parsePackHeader handles the 0xBA pack header: 10 more bytes beyond the
// start code, whose last byte's low 3 bits are the stuffing length.
func (f *Framer) parsePackHeader(st *State) Status {
	b, cs := st.cur.Get(10)
	if cs != cursor.OK {
		return f.fail(st, fromCursor(cs), "pack header")
	}
	stuffing := int(b[9] & 0x07)
	if cs := st.cur.Seek(stuffing); cs != cursor.OK {
		return f.fail(st, fromCursor(cs), "pack header stuffing")
	}
	return OK
}

// parseSystemHeader handles the 0xBB system header: a 16-bit length
// followed by that many bytes, skipped whole. Seeing a system header
// before any video PES marks the frame as an I-frame (spec §3 invariant).
func (f *Framer) parseSystemHeader(st *State) Status {
	lenB, cs := st.cur.Get(2)
	if cs != cursor.OK {
		return f.fail(st, fromCursor(cs), "system header length")
	}
	n := be16(lenB)
	if cs := st.cur.Seek(n); cs != cursor.OK {
		return f.fail(st, fromCursor(cs), "system header body")
	}
	if !st.seenVideoPES {
		st.IsIFrame = true
	}
	return OK
}

// parsePSM handles the 0xBC Program Stream Map: control bytes, program
// stream info, the elementary-stream-map loop resolving each (stream_id,
// stream_type) pair to a codec, and a trailing 4-byte CRC.
func (f *Framer) parsePSM(st *State) Status {
	lenB, cs := st.cur.Get(2)
	if cs != cursor.OK {
		return f.fail(st, fromCursor(cs), "psm length")
	}
	_ = be16(lenB) // spec: trusted, not cross-checked against consumed bytes

	if cs := st.cur.Seek(2); cs != cursor.OK { // PSM control bytes
		return f.fail(st, fromCursor(cs), "psm control bytes")
	}

	infoLenB, cs := st.cur.Get(2)
	if cs != cursor.OK {
		return f.fail(st, fromCursor(cs), "psm program_stream_info_len")
	}
	if cs := st.cur.Seek(be16(infoLenB)); cs != cursor.OK {
		return f.fail(st, fromCursor(cs), "psm program_stream_info")
	}

	mapLenB, cs := st.cur.Get(2)
	if cs != cursor.OK {
		return f.fail(st, fromCursor(cs), "psm elementary_stream_map_len")
	}
	remaining := be16(mapLenB)

	for remaining > 0 {
		entry, cs := st.cur.Get(4) // stream_type, stream_id, ES_info_length(2)
		if cs != cursor.OK {
			return f.fail(st, fromCursor(cs), "psm elementary stream entry")
		}
		streamType, streamID := entry[0], entry[1]
		esInfoLen := be16(entry[2:4])
		remaining -= 4 + esInfoLen

		codec, found := resolveCodec(streamID, streamType)
		if !found {
			return f.fail(st, Inval, "psm: no codec for stream_id=0x%02x stream_type=0x%02x", streamID, streamType)
		}
		switch streamID {
		case streamIDVideo:
			if codec == CodecMPEG4 && f.StrictCodecMatch {
				return f.fail(st, Unsup, "psm: mpeg-4 video rejected under strict codec match")
			}
			st.VideoCodecID = codec
		case streamIDAudio:
			st.AudioCodecID = codec
		}

		if cs := st.cur.Seek(esInfoLen); cs != cursor.OK {
			return f.fail(st, fromCursor(cs), "psm es_info")
		}
	}

	if cs := st.cur.Seek(4); cs != cursor.OK { // CRC
		return f.fail(st, fromCursor(cs), "psm crc")
	}
	if !st.seenVideoPES {
		st.IsIFrame = true
	}
	return OK
}

// parseAudioPES handles the 0xC0 audio PES: identical length/header
// framing to video PES, but the payload is skipped, not accumulated
// (spec §1 Non-goals: "No audio decoding").
func (f *Framer) parseAudioPES(st *State) Status {
	payloadLen, _, status := f.readPESHeader(st)
	if status != OK {
		return status
	}
	if cs := st.cur.Seek(payloadLen); cs != cursor.OK {
		return f.fail(st, fromCursor(cs), "audio pes payload")
	}
	return OK
}

// parseVideoPES handles the 0xE0 video PES. After computing video_data it
// GETs the next 4 bytes and checks for a redundant 4-byte annex-B NAL
// start prefix (00 00 00 01): some encoders double up the PS start code
// and the NAL's own prefix, and the original source normalizes that down
// to a single 3-byte prefix rather than emitting both. When the prefix is
// present, total_video_pes_len loses the redundant byte and the remaining
// NAL body goes through the depacketizer, which writes the canonical
// 3-byte prefix once; spec §9's first open question (declared video_data
// reaching past the current fragment) is resolved the same way the
// original does it: min(remaining, bytes left in the fragment) is handed
// to the depacketizer, and whatever's left is streamed in raw via Copy,
// which crosses fragment boundaries with no scratch-size limit. When the
// 4 bytes are NOT that redundant prefix, the payload already carries
// whatever start code (or lack of one) it's going to have, and is copied
// through verbatim — no prefix is synthesized.
func (f *Framer) parseVideoPES(st *State) Status {
	payloadLen, _, status := f.readPESHeader(st)
	if status != OK {
		return status
	}
	st.seenVideoPES = true
	st.TotalVideoPESLen += payloadLen

	peek, cs := st.cur.Get(4)
	if cs != cursor.OK {
		return f.fail(st, fromCursor(cs), "video pes nal prefix")
	}
	remaining := payloadLen - 4

	if peek[0] == 0x00 && peek[1] == 0x00 && peek[2] == 0x00 && peek[3] == 0x01 {
		st.TotalVideoPESLen--

		take := remaining
		// Checked against the CURRENT FRAGMENT only, never against Get's
		// stitching scratch: a multi-kilobyte NAL routinely exceeds the
		// scratch cap while still being fully present across fragments,
		// and Get(n) fails TooSmall purely on request size before it ever
		// checks availability.
		if avail := st.cur.AvailableInFragment(); avail < take {
			take = avail
		}
		if take > 0 {
			chunk, cs := st.cur.Get(take)
			if cs != cursor.OK {
				return f.fail(st, fromCursor(cs), "video pes payload")
			}
			if ds := st.depack.Unpack(chunk, st.acc); ds != cursor.OK {
				return f.fail(st, fromCursor(ds), "depacketizing video pes payload")
			}
		}
		if leftover := remaining - take; leftover > 0 {
			if cs := st.cur.Copy(leftover, st.acc); cs != cursor.OK {
				return f.fail(st, fromCursor(cs), "video pes continuation")
			}
		}
		return OK
	}

	if ds := st.acc.Append(peek); ds != cursor.OK {
		return f.fail(st, fromCursor(ds), "video pes verbatim prefix")
	}
	if remaining > 0 {
		if cs := st.cur.Copy(remaining, st.acc); cs != cursor.OK {
			return f.fail(st, fromCursor(cs), "video pes payload")
		}
	}
	return OK
}

// parsePrivateTail handles 0xBD (private stream / PS tail): a 16-bit
// length followed by that many bytes, skipped whole.
func (f *Framer) parsePrivateTail(st *State) Status {
	lenB, cs := st.cur.Get(2)
	if cs != cursor.OK {
		return f.fail(st, fromCursor(cs), "private/tail length")
	}
	if cs := st.cur.Seek(be16(lenB)); cs != cursor.OK {
		return f.fail(st, fromCursor(cs), "private/tail body")
	}
	return OK
}

// readPESHeader parses the common PES framing shared by video and audio
// elements: a 16-bit packet length L, then 3 bytes whose last byte is
// header_data_length H, then H bytes of optional header fields (PTS/DTS
// etc., skipped — timing is the upstream jitter buffer's concern).
// Returns the PES payload length (L - 3 - H) and H.
func (f *Framer) readPESHeader(st *State) (payloadLen, headerDataLen int, status Status) {
	lenB, cs := st.cur.Get(2)
	if cs != cursor.OK {
		return 0, 0, f.fail(st, fromCursor(cs), "pes packet length")
	}
	l := be16(lenB)

	hdr, cs := st.cur.Get(3)
	if cs != cursor.OK {
		return 0, 0, f.fail(st, fromCursor(cs), "pes header prefix")
	}
	h := int(hdr[2])
	if cs := st.cur.Seek(h); cs != cursor.OK {
		return 0, 0, f.fail(st, fromCursor(cs), "pes header fields")
	}
	return l - 3 - h, h, OK
}
