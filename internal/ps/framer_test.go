package ps

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvr-edge/ps-h264-bridge/internal/cursor"
)

func pesPacket(streamID byte, payload []byte) []byte {
	b := []byte{0x00, 0x00, 0x01, streamID}
	l := len(payload) + 3 // +3 for the header-prefix bytes below
	b = append(b, byte(l>>8), byte(l))
	b = append(b, 0x80, 0x80, 0x00) // flags, flags, header_data_length=0
	b = append(b, payload...)
	return b
}

func psmPacket(entries ...[3]byte) []byte {
	var mapBytes []byte
	for _, e := range entries {
		streamType, streamID := e[0], e[1]
		mapBytes = append(mapBytes, streamType, streamID, 0x00, 0x00)
	}
	b := []byte{0x00, 0x00, 0x01, streamIDPSM}
	psmLen := 2 + 2 + 2 + len(mapBytes) + 4 // control + info_len + map_len + entries + crc
	b = append(b, byte(psmLen>>8), byte(psmLen))
	b = append(b, 0x00, 0x00)                         // control bytes
	b = append(b, 0x00, 0x00)                         // program_stream_info_len = 0
	b = append(b, byte(len(mapBytes)>>8), byte(len(mapBytes)))
	b = append(b, mapBytes...)
	b = append(b, 0x00, 0x00, 0x00, 0x00) // crc
	return b
}

func run(t *testing.T, buf []byte) (*State, Status) {
	t.Helper()
	acc := cursor.NewAccumulator(4096)
	st := NewState([]cursor.Fragment{{Buf: buf, Seq: 1}}, acc, "")
	status := New().Unpack(st)
	return st, status
}

// TestSingleFragmentIFrame uses a video-PES payload that already carries
// its own 3-byte annex-B prefix, the ordinary case: the GET-4 peek
// doesn't find the redundant 4-byte form, so the bytes pass through
// verbatim with no prefix synthesized.
func TestSingleFragmentIFrame(t *testing.T) {
	psm := psmPacket([3]byte{0x1B, streamIDVideo, 0})
	nal := []byte{0x00, 0x00, 0x01, 0x65, 0xAA, 0xBB}
	video := pesPacket(streamIDVideo, nal)
	buf := append(psm, video...)

	st, status := run(t, buf)
	require.Equal(t, OK, status)
	require.True(t, st.IsIFrame)
	require.Equal(t, CodecH264, st.VideoCodecID)
	require.Equal(t, nal, st.Accumulator().Bytes())
	require.Equal(t, len(nal), st.TotalVideoPESLen)
}

func TestTwoFragmentPFrameStraddlingPESHeader(t *testing.T) {
	nal := []byte{0x00, 0x00, 0x01, 0x41, 0x01, 0x02, 0x03, 0x04}
	video := pesPacket(streamIDVideo, nal)

	// Split mid PES-header so the first fragment doesn't even contain a
	// full start code + length field.
	split := 5
	acc := cursor.NewAccumulator(4096)
	fragments := []cursor.Fragment{
		{Buf: video[:split], Seq: 10},
		{Buf: video[split:], Seq: 11},
	}
	st := NewState(fragments, acc, "")
	status := New().Unpack(st)

	require.Equal(t, OK, status)
	require.False(t, st.IsIFrame)
	require.Equal(t, nal, st.Accumulator().Bytes())
}

func TestTruncatedFrameYieldsEOF(t *testing.T) {
	video := pesPacket(streamIDVideo, []byte{0x00, 0x00, 0x01, 0x65, 0xAA, 0xBB, 0xCC})
	truncated := video[:len(video)-2]

	_, status := run(t, truncated)
	require.Equal(t, EOF, status)
}

func TestUnknownStreamIDIsInvalButRetainsPriorNALs(t *testing.T) {
	nal := []byte{0x00, 0x00, 0x01, 0x65, 0x01}
	video := pesPacket(streamIDVideo, nal)
	bogus := []byte{0x00, 0x00, 0x01, 0xF7} // not in the dispatch table
	buf := append(append([]byte{}, video...), bogus...)

	st, status := run(t, buf)
	require.Equal(t, Inval, status)
	require.Equal(t, nal, st.Accumulator().Bytes())
}

func TestMPEG4PSMDeclarationStillRoutesThroughH264Path(t *testing.T) {
	psm := psmPacket([3]byte{0x10, streamIDVideo, 0})
	nal := []byte{0x00, 0x00, 0x01, 0x67, 0x01}
	video := pesPacket(streamIDVideo, nal)
	buf := append(psm, video...)

	st, status := run(t, buf)
	require.Equal(t, OK, status)
	require.Equal(t, CodecMPEG4, st.VideoCodecID)
	require.Equal(t, nal, st.Accumulator().Bytes())
}

func TestStrictCodecMatchRejectsMPEG4PSMDeclaration(t *testing.T) {
	psm := psmPacket([3]byte{0x10, streamIDVideo, 0})
	nal := []byte{0x00, 0x00, 0x01, 0x67, 0x01}
	video := pesPacket(streamIDVideo, nal)
	buf := append(psm, video...)

	acc := cursor.NewAccumulator(4096)
	st := NewState([]cursor.Fragment{{Buf: buf, Seq: 1}}, acc, "")
	status := (&Framer{StrictCodecMatch: true}).Unpack(st)
	require.Equal(t, Unsup, status)
}

func TestTooSmallOnAccumulatorOverflow(t *testing.T) {
	nal := []byte{0x65, 0x01, 0x02, 0x03, 0x04, 0x05}
	video := pesPacket(streamIDVideo, nal)

	acc := cursor.NewAccumulator(4) // smaller than the full payload
	st := NewState([]cursor.Fragment{{Buf: video, Seq: 1}}, acc, "")
	status := New().Unpack(st)
	require.Equal(t, TooSmall, status)
}

func TestPSMResolvesBothVideoAndAudioCodec(t *testing.T) {
	psm := psmPacket([3]byte{0x1B, streamIDVideo, 0}, [3]byte{0x92, streamIDAudio, 0})
	st, status := run(t, psm)
	require.Equal(t, OK, status)
	require.Equal(t, CodecH264, st.VideoCodecID)
	require.Equal(t, CodecG722, st.AudioCodecID)
}

func TestSystemHeaderBeforeVideoPESMarksIFrame(t *testing.T) {
	sysHeader := []byte{0x00, 0x00, 0x01, streamIDSystemHeader, 0x00, 0x02, 0xAA, 0xBB}
	nal := []byte{0x00, 0x00, 0x01, 0x65, 0x01}
	video := pesPacket(streamIDVideo, nal)
	buf := append(sysHeader, video...)

	st, status := run(t, buf)
	require.Equal(t, OK, status)
	require.True(t, st.IsIFrame)
}

func TestNoSystemHeaderOrPSMMeansNotIFrame(t *testing.T) {
	nal := []byte{0x00, 0x00, 0x01, 0x41, 0x01}
	video := pesPacket(streamIDVideo, nal)

	st, status := run(t, video)
	require.Equal(t, OK, status)
	require.False(t, st.IsIFrame)
}

// TestRedundantNALPrefixIsNormalizedToThreeBytes is spec.md §8 scenario 1
// worked through directly: a video-PES payload whose first four bytes are
// the redundant 00 00 00 01 form must lose one byte off
// total_video_pes_len and land in the accumulator with the 00 00 01 form.
func TestRedundantNALPrefixIsNormalizedToThreeBytes(t *testing.T) {
	nal := append([]byte{0x00, 0x00, 0x00, 0x01, 0x65}, make([]byte, 45)...)
	for i := range nal[5:] {
		nal[5+i] = byte(i)
	}
	require.Len(t, nal, 50)
	video := pesPacket(streamIDVideo, nal)

	st, status := run(t, video)
	require.Equal(t, OK, status)
	require.Equal(t, 49, st.TotalVideoPESLen)
	want := append([]byte{0x00, 0x00, 0x01}, nal[4:]...)
	require.Equal(t, want, st.Accumulator().Bytes())
}

// TestVideoPESVerbatimPayloadIsNotGivenASyntheticPrefix covers the
// "otherwise" branch of the GET-4 check: a payload whose first 4 bytes
// are NOT the redundant 00 00 00 01 prefix is copied through completely
// unmodified, even though it happens not to carry any annex-B prefix of
// its own.
func TestVideoPESVerbatimPayloadIsNotGivenASyntheticPrefix(t *testing.T) {
	nal := []byte{0x65, 0xAA, 0xBB, 0xCC, 0xDD}
	video := pesPacket(streamIDVideo, nal)

	st, status := run(t, video)
	require.Equal(t, OK, status)
	require.Equal(t, nal, st.Accumulator().Bytes())
	require.Equal(t, len(nal), st.TotalVideoPESLen)
}

func TestVideoPESLargerThanScratchCapSplitsAcrossFragments(t *testing.T) {
	// A single-NAL payload comfortably larger than the cursor's default
	// 2000-byte stitching scratch, split across two fragments at a point
	// inside the NAL body rather than at the PES header. Get(payloadLen)
	// would fail StatusTooSmall here if parseVideoPES naively asked the
	// cursor to stitch the whole payload; it must instead Get only the
	// 4-byte prefix check and Copy the rest across the fragment boundary.
	nal := make([]byte, 3000)
	nal[0] = 0x65 // IDR NAL header byte
	for i := 1; i < len(nal); i++ {
		nal[i] = byte(i)
	}
	video := pesPacket(streamIDVideo, nal)

	split := 20 // well inside the PES payload, past the header fields
	acc := cursor.NewAccumulator(8192)
	fragments := []cursor.Fragment{
		{Buf: video[:split], Seq: 1},
		{Buf: video[split:], Seq: 2},
	}
	st := NewState(fragments, acc, "")
	status := New().Unpack(st)

	require.Equal(t, OK, status)
	require.Equal(t, nal, st.Accumulator().Bytes())
}

// TestRedundantNALPrefixSpansFragments exercises the depacketizer branch
// (redundant 4-byte prefix found) when the NAL body following it is
// larger than what remains in the first fragment: the part that fits
// goes through the depacketizer, the rest is copied in raw as the cursor
// crosses into the next fragment.
func TestRedundantNALPrefixSpansFragments(t *testing.T) {
	nal := make([]byte, 3004)
	nal[0], nal[1], nal[2], nal[3] = 0x00, 0x00, 0x00, 0x01
	nal[4] = 0x65
	for i := 5; i < len(nal); i++ {
		nal[i] = byte(i)
	}
	video := pesPacket(streamIDVideo, nal)

	split := 20 // well inside the PES payload, past the GET-4 prefix check
	acc := cursor.NewAccumulator(8192)
	fragments := []cursor.Fragment{
		{Buf: video[:split], Seq: 1},
		{Buf: video[split:], Seq: 2},
	}
	st := NewState(fragments, acc, "")
	status := New().Unpack(st)

	require.Equal(t, OK, status)
	require.Equal(t, len(nal)-1, st.TotalVideoPESLen)
	want := append([]byte{0x00, 0x00, 0x01}, nal[4:]...)
	require.Equal(t, want, st.Accumulator().Bytes())
}

func TestCalleeIDIsCapped(t *testing.T) {
	long := make([]byte, 512)
	for i := range long {
		long[i] = 'a'
	}
	st := NewState(nil, cursor.NewAccumulator(16), string(long))
	require.Len(t, st.CalleeID, 256)
}
