// Package videoruntime wraps the external AV codec runtime the codec
// adapter's decode_whole contract hands fully-reassembled annex-B
// buffers to (spec.md §1 PURPOSE, §4.4). The concrete implementation here
// is built on libvpx-go's CodecCtx/Image lifecycle — the same
// open/encode-or-decode/close shape the teacher uses for VP8 — standing
// in for whatever hardware- or vendor-supplied H.264 decoder a real
// deployment would link.
package videoruntime

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/Azunyan1111/libvpx-go/vpx"
)

// Frame is a decoded picture: one plane per component, strides included
// so callers don't assume tight packing.
type Frame struct {
	Width, Height int
	Planes        [3][]byte
	Strides       [3]int
}

// Decoder is the contract the codec adapter's decode_whole operation
// drives: hand it one complete annex-B access unit, get back zero or one
// decoded picture. Implementations must be safe to Close concurrently
// with a pending Decode. The codec adapter itself calls Decode and Close
// only while holding Codec's own mutex, so it never overlaps them;
// vpxDecoder still guards both with a mutex of its own.
type Decoder interface {
	Decode(accessUnit []byte) (*Frame, error)
	Close() error
}

// vpxDecoder adapts libvpx-go's codec context to Decoder. Despite the
// package name, libvpx speaks VP8/VP9 bitstreams, not H.264 — it is
// wired here purely for its context-lifecycle shape (CodecCtx open under
// a mutex, CodecDecode, CodecGetFrame, CodecDestroy), the same pattern
// the teacher's VP8 encoder uses for the inverse direction. A real
// deployment replaces this with a vendor H.264 decoder behind the same
// Decoder interface.
type vpxDecoder struct {
	mu  sync.Mutex
	ctx *vpx.CodecCtx
}

// NewVPXDecoder opens a libvpx decoder context for the VP8 bitstream
// interface; callers outside this package only see the Decoder
// interface.
func NewVPXDecoder() (Decoder, error) {
	ctx := vpx.NewCodecCtx()
	if ctx == nil {
		return nil, fmt.Errorf("videoruntime: failed to create codec context")
	}
	iface := vpx.DecoderIfaceVP8()
	if iface == nil {
		vpx.CodecDestroy(ctx)
		return nil, fmt.Errorf("videoruntime: failed to get decoder interface")
	}
	cfg := &vpx.CodecDecCfg{}
	if err := vpx.Error(vpx.CodecDecInitVer(ctx, iface, cfg, 0, vpx.DecoderABIVersion)); err != nil {
		vpx.CodecDestroy(ctx)
		return nil, fmt.Errorf("videoruntime: failed to init decoder: %w", err)
	}
	return &vpxDecoder{ctx: ctx}, nil
}

func (d *vpxDecoder) Decode(accessUnit []byte) (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx == nil {
		return nil, fmt.Errorf("videoruntime: decode on closed context")
	}
	if err := vpx.Error(vpx.CodecDecode(d.ctx, accessUnit, uint32(len(accessUnit)), nil, 0)); err != nil {
		detail := vpx.CodecErrorDetail(d.ctx)
		return nil, fmt.Errorf("videoruntime: decode failed: %w (detail: %s)", err, detail)
	}

	var iter vpx.CodecIter
	img := vpx.CodecGetFrame(d.ctx, &iter)
	if img == nil {
		return nil, nil
	}
	img.Deref()

	return &Frame{
		Width:  int(img.DW),
		Height: int(img.DH),
		Planes: [3][]byte{
			planeBytes(img, vpx.PlaneY),
			planeBytes(img, vpx.PlaneU),
			planeBytes(img, vpx.PlaneV),
		},
		Strides: [3]int{
			int(img.Stride[vpx.PlaneY]),
			int(img.Stride[vpx.PlaneU]),
			int(img.Stride[vpx.PlaneV]),
		},
	}, nil
}

func (d *vpxDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil
	}
	vpx.CodecDestroy(d.ctx)
	d.ctx = nil
	return nil
}

// planeBytes extracts libvpx's packed-pointer plane via unsafe.Pointer,
// the same access pattern the teacher's encoder side uses for the
// forward direction, sized by stride x height for that plane (chroma
// planes run at half resolution).
func planeBytes(img *vpx.Image, plane int) []byte {
	h := int(img.DH)
	if plane != vpx.PlaneY {
		h = (h + 1) / 2
	}
	stride := int(img.Stride[plane])
	size := stride * h
	return (*(*[1 << 30]byte)(unsafe.Pointer(img.Planes[plane])))[:size]
}
