// Package fmtp extracts the H.264 negotiation parameters the codec
// adapter needs — profile-level-id, packetization-mode, and
// sprop-parameter-sets — from a negotiated SDP media description.
package fmtp

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// Params holds the H.264 fmtp fields spec §4.4/§6 need to configure a
// Codec before Open: which packetization mode STAP-A/FU-A framing
// implies, and the out-of-band SPS/PPS sprop sets some senders omit from
// the RTP stream itself.
type Params struct {
	ProfileLevelID     string
	PacketizationMode  int
	SpropParameterSets [][]byte
}

// FromSessionDescription scans sd for the first H.264 media description
// (case-insensitive "H264" rtpmap) and parses its fmtp line. Returns
// ok=false and the zero Params if no H.264 media section or matching
// fmtp attribute exists; choosing a fallback is left to the caller.
func FromSessionDescription(sd *sdp.SessionDescription) (Params, bool) {
	if sd == nil {
		return Params{}, false
	}
	for _, media := range sd.MediaDescriptions {
		if media.MediaName.Media != "video" {
			continue
		}
		fmtLine, ok := h264FmtpLine(media)
		if !ok {
			continue
		}
		return Parse(fmtLine), true
	}
	return Params{}, false
}

// h264FmtpLine finds the fmtp attribute whose payload type matches an
// rtpmap advertising "H264".
func h264FmtpLine(media *sdp.MediaDescription) (string, bool) {
	var h264PT string
	for _, attr := range media.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		fields := strings.SplitN(attr.Value, " ", 2)
		if len(fields) == 2 && strings.HasPrefix(strings.ToUpper(fields[1]), "H264") {
			h264PT = fields[0]
			break
		}
	}
	if h264PT == "" {
		return "", false
	}
	for _, attr := range media.Attributes {
		if attr.Key != "fmtp" {
			continue
		}
		fields := strings.SplitN(attr.Value, " ", 2)
		if len(fields) == 2 && fields[0] == h264PT {
			return fields[1], true
		}
	}
	return "", false
}

// Parse splits a "key=value;key=value" fmtp line into Params, ignoring
// keys it doesn't recognize (spec §6: unrecognised parameters are not an
// error, the adapter only cares about the three it names).
func Parse(line string) Params {
	p := Params{PacketizationMode: 0}
	for _, pair := range strings.Split(line, ";") {
		pair = strings.TrimSpace(pair)
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.ToLower(strings.TrimSpace(kv[0])), strings.TrimSpace(kv[1])
		switch key {
		case "profile-level-id":
			p.ProfileLevelID = val
		case "packetization-mode":
			if n, err := strconv.Atoi(val); err == nil {
				p.PacketizationMode = n
			}
		case "sprop-parameter-sets":
			p.SpropParameterSets = decodeSpropSets(val)
		}
	}
	return p
}

// decodeSpropSets splits a comma-separated list of base64 SPS/PPS blobs,
// silently dropping any entry that fails to decode — a malformed
// sprop-parameter-sets value degrades to "no out-of-band parameter
// sets," not a hard parse failure.
func decodeSpropSets(val string) [][]byte {
	var out [][]byte
	for _, part := range strings.Split(val, ",") {
		b, err := base64.StdEncoding.DecodeString(part)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

func (p Params) String() string {
	return fmt.Sprintf("fmtp{profile=%s mode=%d sprop_sets=%d}", p.ProfileLevelID, p.PacketizationMode, len(p.SpropParameterSets))
}
