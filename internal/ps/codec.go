package ps

// CodecID identifies an elementary stream's codec, resolved from the
// Program Stream Map's (stream_id, stream_type) pairs (spec §4.2.1).
type CodecID int

const (
	CodecNone CodecID = iota
	CodecH264
	CodecMPEG4
	CodecG722
	CodecG723_1
	CodecG729
)

func (c CodecID) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecMPEG4:
		return "mpeg4"
	case CodecG722:
		return "g722"
	case CodecG723_1:
		return "g723.1"
	case CodecG729:
		return "g729"
	default:
		return "none"
	}
}

type psmKey struct {
	streamID   byte
	streamType byte
}

// psmCodecTable is the fixed lookup table of spec §4.2.1. SVAC video,
// G.711 audio, and SVAC audio are recognised but unsupported, recorded
// as CodecNone rather than failing resolution — only a pair absent from
// this table produces NOTFOUND.
var psmCodecTable = map[psmKey]CodecID{
	{0xE0, 0x1B}: CodecH264,
	{0xE0, 0x10}: CodecMPEG4,
	{0xE0, 0x80}: CodecNone, // SVAC video, unsupported
	{0xC0, 0x90}: CodecNone, // G.711, placeholder
	{0xC0, 0x92}: CodecG722,
	{0xC0, 0x93}: CodecG723_1,
	{0xC0, 0x99}: CodecG729,
	{0xC0, 0x9B}: CodecNone, // SVAC audio, unsupported
}

// resolveCodec looks up a PSM elementary-stream-map entry. found is
// false only for a (streamID, streamType) pair absent from the table
// entirely (spec: "unknown pairs yield a NOTFOUND result that
// terminates the decode with INVAL").
func resolveCodec(streamID, streamType byte) (CodecID, bool) {
	c, ok := psmCodecTable[psmKey{streamID, streamType}]
	return c, ok
}
