package fmtp

import (
	"encoding/base64"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/require"
)

func TestParseExtractsRecognizedKeys(t *testing.T) {
	sps := base64.StdEncoding.EncodeToString([]byte{0x67, 0x42, 0xE0, 0x1E})
	pps := base64.StdEncoding.EncodeToString([]byte{0x68, 0xCE, 0x3C, 0x80})
	line := "profile-level-id=42e01e;packetization-mode=1;sprop-parameter-sets=" + sps + "," + pps

	p := Parse(line)
	require.Equal(t, "42e01e", p.ProfileLevelID)
	require.Equal(t, 1, p.PacketizationMode)
	require.Len(t, p.SpropParameterSets, 2)
	require.Equal(t, []byte{0x67, 0x42, 0xE0, 0x1E}, p.SpropParameterSets[0])
	require.Equal(t, []byte{0x68, 0xCE, 0x3C, 0x80}, p.SpropParameterSets[1])
}

func TestParseIgnoresUnrecognizedKeys(t *testing.T) {
	p := Parse("level-asymmetry-allowed=1;profile-level-id=42e01e;max-mbps=245000")
	require.Equal(t, "42e01e", p.ProfileLevelID)
	require.Equal(t, 0, p.PacketizationMode, "unset packetization-mode defaults to single-NAL mode 0")
}

func TestParseDropsMalformedSpropEntriesSilently(t *testing.T) {
	valid := base64.StdEncoding.EncodeToString([]byte{0x67, 0x01})
	p := Parse("sprop-parameter-sets=" + valid + ",not-valid-base64!!!")
	require.Len(t, p.SpropParameterSets, 1)
	require.Equal(t, []byte{0x67, 0x01}, p.SpropParameterSets[0])
}

func TestParseEmptyLineYieldsZeroValue(t *testing.T) {
	p := Parse("")
	require.Equal(t, Params{PacketizationMode: 0}, p)
}

func TestFromSessionDescriptionNilIsNotOK(t *testing.T) {
	p, ok := FromSessionDescription(nil)
	require.False(t, ok)
	require.Equal(t, Params{}, p)
}

func TestFromSessionDescriptionFindsH264MediaSection(t *testing.T) {
	sd := &sdp.SessionDescription{
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{Media: "audio"},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: "111 opus/48000/2"},
				},
			},
			{
				MediaName: sdp.MediaName{Media: "video"},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: "96 H264/90000"},
					{Key: "fmtp", Value: "96 profile-level-id=42e01e;packetization-mode=1"},
				},
			},
		},
	}

	p, ok := FromSessionDescription(sd)
	require.True(t, ok)
	require.Equal(t, "42e01e", p.ProfileLevelID)
	require.Equal(t, 1, p.PacketizationMode)
}

func TestFromSessionDescriptionNoVideoSectionIsNotOK(t *testing.T) {
	sd := &sdp.SessionDescription{
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{Media: "audio"},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: "111 opus/48000/2"},
				},
			},
		},
	}
	_, ok := FromSessionDescription(sd)
	require.False(t, ok)
}

func TestFromSessionDescriptionFmtpPayloadTypeMustMatchRtpmap(t *testing.T) {
	sd := &sdp.SessionDescription{
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{Media: "video"},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: "96 H264/90000"},
					{Key: "fmtp", Value: "97 profile-level-id=000000"},
				},
			},
		},
	}
	_, ok := FromSessionDescription(sd)
	require.False(t, ok, "fmtp for a different payload type must not match")
}
