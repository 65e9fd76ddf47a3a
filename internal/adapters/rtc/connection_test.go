package rtc

import (
	"context"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func TestOfferAnswerExchange(t *testing.T) {
	offerer, err := NewWebRTCConnection(webrtc.Configuration{}, "b")
	require.NoError(t, err)
	defer offerer.Close()
	answerer, err := NewWebRTCConnection(webrtc.Configuration{}, "a")
	require.NoError(t, err)
	defer answerer.Close()

	require.NoError(t, offerer.Start(context.Background()))
	require.NoError(t, answerer.Start(context.Background()))

	dc, err := offerer.CreateDataChannel("files")
	require.NoError(t, err)
	require.Equal(t, "files", dc.Label())

	offer, err := offerer.CreateAndSetOffer()
	require.NoError(t, err)
	require.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	require.True(t, strings.Contains(offer.SDP, "m=application"))

	answer, err := answerer.ApplyOfferAndCreateAnswer(*offer)
	require.NoError(t, err)
	require.Equal(t, webrtc.SDPTypeAnswer, answer.Type)

	require.NoError(t, offerer.ApplyAnswer(*answer))
}

func TestCloseIsIdempotent(t *testing.T) {
	c, err := NewWebRTCConnection(webrtc.Configuration{}, "b")
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	require.False(t, c.IsClosed())
	c.Close()
	c.Close()
	require.True(t, c.IsClosed())
}

func TestConfigWithSTUN(t *testing.T) {
	require.Empty(t, ConfigWithSTUN(nil).ICEServers)
	cfg := DefaultWebRTCConfig()
	require.Len(t, cfg.ICEServers, 1)
	require.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers[0].URLs)
}
