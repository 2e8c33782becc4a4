package transport

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// GenerateSDP builds a minimal session description for a registered
// output's RTP/H.264 stream, the peripheral concern spec.md §6 notes.
// Callers may hand the resulting text to a receiving application out of
// band; the server itself does no SDP offer/answer negotiation.
func GenerateSDP(host string, port int, payloadType uint8) (string, error) {
	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: host,
		},
		SessionName: "video-compositor",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "video",
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{fmt.Sprintf("%d", payloadType)},
				},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: fmt.Sprintf("%d H264/90000", payloadType)},
				},
			},
		},
	}

	raw, err := sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal sdp: %w", err)
	}
	return string(raw), nil
}
