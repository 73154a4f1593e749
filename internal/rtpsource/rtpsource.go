// Package rtpsource adapts a live pion/webrtc RTP track into the ordered
// fragment arrays the PS framer consumes, standing in for the jitter
// buffer/RTP reassembly layer spec.md treats as an upstream given.
package rtpsource

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/nvr-edge/ps-h264-bridge/internal/cursor"
	"github.com/nvr-edge/ps-h264-bridge/internal/obs"
)

// rtpReader is the slice of *webrtc.TrackRemote this package depends on,
// narrowed so tests can supply a fake reader instead of a live track.
type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Source reads RTP packets off a TrackRemote and groups them into one
// fragment batch per timestamp, flushing a batch on the marker bit or on
// a timestamp change — whichever is observed first, matching how the
// upstream network can reorder or drop the marker packet itself.
type Source struct {
	track rtpReader

	baseTimeout    time.Duration
	maxTimeout     time.Duration
	timeoutStep    time.Duration
	currentTimeout time.Duration

	pending     []cursor.Fragment
	pendingTS   uint32
	havePending bool
}

// New builds a Source over track. maxTimeout bounds the escalating
// read-timeout backoff (0 disables the timeout entirely, blocking on
// ReadRTP directly).
func New(track *webrtc.TrackRemote, maxTimeout time.Duration) *Source {
	return newSource(track, maxTimeout)
}

// newSource builds a Source over any rtpReader; used directly by tests to
// inject a fake track.
func newSource(track rtpReader, maxTimeout time.Duration) *Source {
	base := 2 * time.Second
	return &Source{
		track:          track,
		baseTimeout:    base,
		maxTimeout:     maxTimeout,
		timeoutStep:    1 * time.Second,
		currentTimeout: base,
	}
}

// readRTPWithTimeout mirrors the teacher's escalating-backoff read loop:
// timeouts start at baseTimeout, grow by timeoutStep on each consecutive
// miss up to maxTimeout, and reset the moment a packet arrives.
func (s *Source) readRTPWithTimeout(ctx context.Context) (*rtp.Packet, interceptor.Attributes, error) {
	if s.maxTimeout <= 0 {
		return s.track.ReadRTP()
	}

	type result struct {
		packet *rtp.Packet
		attrs  interceptor.Attributes
		err    error
	}
	resultCh := make(chan result, 1)
	timeout := s.currentTimeout
	go func() {
		p, a, err := s.track.ReadRTP()
		resultCh <- result{p, a, err}
	}()

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case r := <-resultCh:
		s.currentTimeout = s.baseTimeout
		return r.packet, r.attrs, r.err
	case <-time.After(timeout):
		s.currentTimeout += s.timeoutStep
		if s.currentTimeout > s.maxTimeout {
			s.currentTimeout = s.maxTimeout
		}
		return nil, nil, fmt.Errorf("rtp read timeout after %v", timeout)
	}
}

// NextFrame blocks until one complete batch of fragments — all the RTP
// packets sharing a single timestamp, in sequence order as received — is
// available, or returns io.EOF once the track is closed.
func (s *Source) NextFrame(ctx context.Context) ([]cursor.Fragment, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		packet, _, err := s.readRTPWithTimeout(ctx)
		if err != nil {
			if err == ctx.Err() {
				return nil, err
			}
			if err == io.EOF {
				if s.havePending && len(s.pending) > 0 {
					out := s.pending
					s.pending = nil
					s.havePending = false
					return out, nil
				}
				return nil, io.EOF
			}
			obs.Warnf("rtp read: %v", err)
			continue
		}
		if packet == nil || len(packet.Payload) == 0 {
			continue
		}

		if s.havePending && packet.Timestamp != s.pendingTS {
			flushed := s.pending
			s.pending = []cursor.Fragment{{
				Buf:       packet.Payload,
				Seq:       packet.SequenceNumber,
				Timestamp: packet.Timestamp,
			}}
			s.pendingTS = packet.Timestamp
			return flushed, nil
		}

		s.pending = append(s.pending, cursor.Fragment{
			Buf:       packet.Payload,
			Seq:       packet.SequenceNumber,
			Timestamp: packet.Timestamp,
		})
		s.pendingTS = packet.Timestamp
		s.havePending = true

		if packet.Marker {
			out := s.pending
			s.pending = nil
			s.havePending = false
			return out, nil
		}
	}
}
