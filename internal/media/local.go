// Package media owns the client's local capture tracks and the remote
// streams received from peers.
package media

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var ErrTrackEnded = errors.New("track ended")

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStateMuted
	TrackStateEnded
)

// LocalTrack is one outbound capture track. The same track is added to every
// peer connection, so muting it here mutes it towards every peer at once.
type LocalTrack struct {
	Kind  domain.MediaKind
	Track *webrtc.TrackLocalStaticRTP
	state atomic.Int32 // Zero by default (TrackStateLive)
}

func NewLocalTrack(kind domain.MediaKind, streamID string) (*LocalTrack, error) {
	var codec webrtc.RTPCodecCapability
	switch kind {
	case domain.MediaAudio:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	case domain.MediaVideo:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	default:
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}
	track, err := webrtc.NewTrackLocalStaticRTP(codec, string(kind), streamID)
	if err != nil {
		return nil, err
	}
	return &LocalTrack{Kind: kind, Track: track}, nil
}

func (t *LocalTrack) State() TrackState {
	return TrackState(t.state.Load())
}

// SetEnabled mutes or unmutes the track. An ended track stays ended.
func (t *LocalTrack) SetEnabled(enabled bool) {
	next := TrackStateMuted
	if enabled {
		next = TrackStateLive
	}
	for {
		cur := t.state.Load()
		if TrackState(cur) == TrackStateEnded {
			return
		}
		if t.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

func (t *LocalTrack) Enabled() bool {
	return t.State() == TrackStateLive
}

func (t *LocalTrack) End() {
	t.state.Store(int32(TrackStateEnded))
}

// WriteRTP forwards a captured packet to every bound peer. Packets written
// while muted are dropped.
func (t *LocalTrack) WriteRTP(pkt *rtp.Packet) error {
	switch t.State() {
	case TrackStateMuted:
		return nil
	case TrackStateEnded:
		return ErrTrackEnded
	}
	return t.Track.WriteRTP(pkt)
}

// Local is the acquired local media: at most one track per kind.
type Local struct {
	StreamID string
	video    *LocalTrack
	audio    *LocalTrack
}

func NewLocal(streamID string, kinds ...domain.MediaKind) (*Local, error) {
	l := &Local{StreamID: streamID}
	for _, kind := range kinds {
		track, err := NewLocalTrack(kind, streamID)
		if err != nil {
			return nil, err
		}
		switch kind {
		case domain.MediaVideo:
			l.video = track
		case domain.MediaAudio:
			l.audio = track
		}
	}
	return l, nil
}

func (l *Local) Track(kind domain.MediaKind) (*LocalTrack, bool) {
	if l == nil {
		return nil, false
	}
	var t *LocalTrack
	switch kind {
	case domain.MediaVideo:
		t = l.video
	case domain.MediaAudio:
		t = l.audio
	}
	return t, t != nil
}

// Tracks returns the present tracks, video first.
func (l *Local) Tracks() []*LocalTrack {
	if l == nil {
		return nil
	}
	out := make([]*LocalTrack, 0, 2)
	if l.video != nil {
		out = append(out, l.video)
	}
	if l.audio != nil {
		out = append(out, l.audio)
	}
	return out
}

func (l *Local) SetEnabled(kind domain.MediaKind, enabled bool) bool {
	t, ok := l.Track(kind)
	if !ok {
		return false
	}
	t.SetEnabled(enabled)
	return true
}

func (l *Local) Close() {
	for _, t := range l.Tracks() {
		t.End()
	}
}
