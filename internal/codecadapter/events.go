package codecadapter

// EventKind enumerates the three events decode_whole can raise (spec §4.4).
type EventKind int

const (
	EventFmtChanged EventKind = iota
	EventKeyframeFound
	EventKeyframeMissing
)

func (k EventKind) String() string {
	switch k {
	case EventFmtChanged:
		return "FMT_CHANGED"
	case EventKeyframeFound:
		return "KEYFRAME_FOUND"
	case EventKeyframeMissing:
		return "KEYFRAME_MISSING"
	default:
		return "UNKNOWN"
	}
}

// Event carries the minimum context spec §4.4/§7 names: which codec
// instance, which kind, and for FMT_CHANGED the new dimensions.
type Event struct {
	Kind   EventKind
	Codec  int
	Width  int
	Height int
}

// EventSink publishes adapter events onto "the surrounding framework's
// event bus" (spec §7) — modeled as a plain callback so codecadapter
// doesn't depend on any specific bus implementation.
type EventSink func(Event)
