package codecadapter

import (
	"fmt"
	"sync"

	"github.com/nvr-edge/ps-h264-bridge/internal/obs"
	"github.com/nvr-edge/ps-h264-bridge/internal/videoruntime"
)

type factoryState int

const (
	stateUninit factoryState = iota
	stateInit
)

// Callback is the optional parser short-circuit spec §3/§4.2.2 describes:
// installed once, invoked with the completed I-frame's annex-B buffer,
// declared video codec, and caller-supplied identifier, whenever a
// decode call classifies its frame as a key frame. Non-key frames are
// never passed to it.
type Callback func(annexB []byte, videoCodec string, calleeID string)

// NewDecoderFunc constructs one videoruntime.Decoder per opened codec —
// the "pool factory" spec §3/§6 treats as an injected, externally-owned
// collaborator rather than something the adapter constructs directly.
type NewDecoderFunc func() (videoruntime.Decoder, error)

// Factory is the registry singleton of spec §3/§4.4: process-lifetime,
// paired init/deinit, one mutex guarding both codec-context open/close
// and factory (de)registration. Per spec §9's "Cyclic ownership" note,
// codecs are held by index in codecsByID rather than linked via raw
// back-pointers; a Codec carries its id, resolving back through the
// factory only when it needs to.
type Factory struct {
	mu sync.Mutex

	state       factoryState
	descriptor  Descriptor
	newDecoder  NewDecoderFunc
	callback    Callback
	eventSink   EventSink
	codecsByID  map[int]*Codec
	nextCodecID int
}

// NewFactory returns an unregistered, UNINIT factory.
func NewFactory() *Factory {
	return &Factory{codecsByID: make(map[int]*Codec)}
}

// Init is single-shot: a second call while already INIT succeeds with OK
// (spec §4.4), leaving the existing descriptor/decoder-factory in place.
func (f *Factory) Init(descriptor Descriptor, newDecoder NewDecoderFunc) Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == stateInit {
		return OK
	}
	f.descriptor = descriptor
	f.newDecoder = newDecoder
	f.state = stateInit
	obs.Debugf("codecadapter: factory initialized, payload_type=%d", descriptor.PayloadType)
	return OK
}

// Deinit requires prior Init; unregisters the factory and releases every
// still-open codec. Idempotent is not guaranteed here — spec §4.4 only
// requires init to be idempotent, not deinit.
func (f *Factory) Deinit() Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != stateInit {
		return Bug
	}
	for id, codec := range f.codecsByID {
		codec.mu.Lock()
		codec.closeLocked()
		codec.mu.Unlock()
		delete(f.codecsByID, id)
	}
	f.state = stateUninit
	obs.Debugf("codecadapter: factory deinitialized")
	return OK
}

// InstallCallback registers the single parser short-circuit (spec §6:
// "only one callback may be registered at a time").
func (f *Factory) InstallCallback(cb Callback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callback = cb
}

// SetEventSink registers where FMT_CHANGED/KEYFRAME_FOUND/KEYFRAME_MISSING
// events (spec §4.4) are published — "the surrounding framework's event
// bus" (spec §7), modeled here as a plain function rather than a
// framework-specific bus type to keep codecadapter free of that
// dependency.
func (f *Factory) SetEventSink(sink EventSink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventSink = sink
}

// Alloc allocates a codec instance, failing Unsup if payloadType doesn't
// match the single registered descriptor (spec §4.4).
func (f *Factory) Alloc(payloadType byte) (*Codec, Status) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != stateInit {
		return nil, Bug
	}
	if !f.descriptor.Matches(payloadType) {
		return nil, Unsup
	}

	id := f.nextCodecID
	f.nextCodecID++
	c := &Codec{id: id, factory: f, descriptor: f.descriptor}
	f.codecsByID[id] = c
	return c, OK
}

// free removes id from the registry. Safe to call twice; the second call
// is a no-op (spec §4.4: "idempotent against double-close").
func (f *Factory) free(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.codecsByID, id)
}

// openDecoder serializes external-context construction under the
// factory mutex (spec §5: "the underlying library requires
// serialisation there").
func (f *Factory) openDecoder() (videoruntime.Decoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newDecoder == nil {
		return nil, fmt.Errorf("codecadapter: no decoder factory configured")
	}
	return f.newDecoder()
}

func (f *Factory) publish(ev Event) {
	f.mu.Lock()
	sink := f.eventSink
	f.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

func (f *Factory) runCallback(annexB []byte, videoCodec, calleeID string) {
	f.mu.Lock()
	cb := f.callback
	f.mu.Unlock()
	if cb != nil {
		cb(annexB, videoCodec, calleeID)
	}
}
