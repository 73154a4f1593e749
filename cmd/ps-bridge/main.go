// Command ps-bridge is a demo WHEP client exercising the PS/H.264
// bridge end to end: it terminates a WHEP session, reads the inbound
// video track's RTP packets, batches them into frame fragments, and
// runs them through the codec adapter, writing each completed
// I-frame's annex-B buffer to an output file or stdout.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/nvr-edge/ps-h264-bridge/internal/codecadapter"
	"github.com/nvr-edge/ps-h264-bridge/internal/fmtp"
	"github.com/nvr-edge/ps-h264-bridge/internal/obs"
	"github.com/nvr-edge/ps-h264-bridge/internal/rtpsource"
	"github.com/nvr-edge/ps-h264-bridge/internal/videoruntime"
)

var (
	whepURL     = pflag.StringP("url", "u", "http://localhost:8080/whep", "WHEP server URL")
	videoOutput = pflag.StringP("video", "v", "-", "Output path for completed I-frame annex-B buffers ('-' for stdout)")
	bearerToken = pflag.StringP("token", "t", "", "Bearer token for authentication (optional)")
	calleeID    = pflag.String("callee-id", "", "Optional caller identifier threaded through to completed frames")
	mtu         = pflag.Int("mtu", 1500, "MTU clamp applied at codec open")
	strictCodec = pflag.Bool("strict-codec-match", false, "Reject PSM-declared MPEG-4 video instead of depacketizing it as H.264")
	debug       = pflag.Bool("debug", false, "Enable verbose logging")
	maxTimeout  = pflag.Duration("max-read-timeout", 30*time.Second, "Upper bound of the escalating RTP read timeout; timeouts are logged and reading continues (0 disables the timeout)")
)

func main() {
	pflag.Parse()
	obs.Debug.Store(*debug)

	if err := run(); err != nil {
		obs.Errorf("%v", err)
		os.Exit(1)
	}
}

func run() error {
	out, err := openOutput(*videoOutput)
	if err != nil {
		return fmt.Errorf("opening output: %w", err)
	}
	defer out.Close()

	descriptor := codecadapter.DefaultDescriptor()
	descriptor.StrictCodecMatch = *strictCodec

	factory := codecadapter.NewFactory()
	if status := factory.Init(descriptor, func() (videoruntime.Decoder, error) {
		return videoruntime.NewVPXDecoder()
	}); status != codecadapter.OK {
		return fmt.Errorf("factory init: %v", status)
	}
	defer factory.Deinit()

	factory.SetEventSink(func(ev codecadapter.Event) {
		obs.Debugf("event: %s codec=%d w=%d h=%d", ev.Kind, ev.Codec, ev.Width, ev.Height)
	})
	factory.InstallCallback(func(annexB []byte, videoCodec, callee string) {
		obs.Debugf("i-frame complete: codec=%s callee=%q bytes=%d", videoCodec, callee, len(annexB))
		if _, err := out.Write(annexB); err != nil {
			obs.Errorf("writing i-frame: %v", err)
		}
	})

	codec, status := factory.Alloc(descriptor.PayloadType)
	if status != codecadapter.OK {
		return fmt.Errorf("codec alloc: %v", status)
	}
	defer codec.Free()

	pc, err := newPeerConnection(descriptor.PayloadType)
	if err != nil {
		return fmt.Errorf("peer connection: %w", err)
	}
	defer pc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		obs.Debugf("track received: codec=%s", track.Codec().MimeType)

		fmtpParams, ok := fmtp.FromSessionDescription(mustParseSDP(pc.RemoteDescription()))
		openParams := codecadapter.OpenParams{MTU: *mtu, CalleeID: *calleeID}
		if ok {
			openParams.Fmtp = fmtpToLine(fmtpParams)
		}
		if status := codec.Open(openParams); status != codecadapter.OK {
			obs.Errorf("codec open: %v", status)
			return
		}

		src := rtpsource.New(track, *maxTimeout)
		go pumpTrack(ctx, src, codec)
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		obs.Debugf("ICE connection state: %s", state)
		if state == webrtc.ICEConnectionStateFailed {
			cancel()
		}
	})

	if err := negotiate(pc, *whepURL, *bearerToken); err != nil {
		return fmt.Errorf("whep negotiation: %w", err)
	}

	obs.Debugf("connected, receiving media; press ctrl+c to stop")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	return nil
}

// pumpTrack drains fragment batches from src and runs each through
// codec.Decode until the track ends or ctx is cancelled.
func pumpTrack(ctx context.Context, src *rtpsource.Source, codec *codecadapter.Codec) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		fragments, err := src.NextFrame(ctx)
		if err != nil {
			if err != io.EOF {
				obs.Warnf("rtp source: %v", err)
			}
			return
		}
		if _, status := codec.Decode(fragments); status != codecadapter.OK {
			obs.Warnf("decode: %v", status)
		}
	}
}

func newPeerConnection(payloadType byte) (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		PayloadType:        webrtc.PayloadType(payloadType),
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return nil, err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, err
	}
	return pc, nil
}

// negotiate performs the WHEP offer/answer exchange: create an offer,
// wait for ICE gathering, POST the SDP, and apply the server's answer.
func negotiate(pc *webrtc.PeerConnection, url, token string) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	<-gatherComplete

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader([]byte(pc.LocalDescription().SDP)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/sdp")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whep server returned %d: %s", resp.StatusCode, body)
	}
	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: string(answer)})
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func fmtpToLine(p fmtp.Params) string {
	return fmt.Sprintf("profile-level-id=%s;packetization-mode=%d", p.ProfileLevelID, p.PacketizationMode)
}

func mustParseSDP(desc *webrtc.SessionDescription) *sdp.SessionDescription {
	if desc == nil {
		return nil
	}
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(desc.SDP)); err != nil {
		obs.Warnf("parsing remote SDP: %v", err)
		return nil
	}
	return &sd
}
