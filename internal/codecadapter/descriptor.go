package codecadapter

// Direction is the codec direction requested at Open. Open only ever
// allocates a decoder context: DirDecode and DirBoth both open one
// decoder, DirEncode fails Unsup, and no encoder context is allocated.
type Direction int

const (
	DirDecode Direction = iota
	DirEncode
	DirBoth
)

// Descriptor is the factory's single registered codec descriptor (spec
// §4.4: alloc "fails UNSUP if info does not match the single registered
// descriptor"). Constants follow spec §6's configuration section.
type Descriptor struct {
	PayloadType byte

	FrameWidth  int
	FrameHeight int
	FrameRate   float64

	AvgBitrate int
	MaxBitrate int

	DefaultFmtp string

	// StrictCodecMatch, when true, rejects an MPEG-4-declared PSM video
	// stream with Unsup instead of depacketizing it as H.264 — see
	// SPEC_FULL §12.4, resolving spec §9's third open question.
	StrictCodecMatch bool
}

// DefaultDescriptor returns the descriptor spec §6 names: 1920x1080 at
// 25fps, 256kbps avg/max, profile-level-id 42e01e in packetization-mode 1.
func DefaultDescriptor() Descriptor {
	return Descriptor{
		PayloadType: 96,
		FrameWidth:  1920,
		FrameHeight: 1080,
		FrameRate:   25,
		AvgBitrate:  256_000,
		MaxBitrate:  256_000,
		DefaultFmtp: "profile-level-id=42e01e;packetization-mode=1",
	}
}

// Matches reports whether requested info is servable by d — today this
// only checks the payload type, the one piece of "info" spec §4.4's
// alloc contract names explicitly.
func (d Descriptor) Matches(payloadType byte) bool {
	return d.PayloadType == payloadType
}
