package domain

import "fmt"

type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(s) {
	case MediaVideo, MediaAudio:
		return MediaKind(s), nil
	}
	return "", fmt.Errorf("unknown media kind %q", s)
}

// MediaState is what a session advertises to its room mates. Both flags start enabled.
type MediaState struct {
	VideoEnabled bool
	AudioEnabled bool
}

func DefaultMediaState() MediaState {
	return MediaState{VideoEnabled: true, AudioEnabled: true}
}

func (m *MediaState) Set(kind MediaKind, enabled bool) {
	switch kind {
	case MediaVideo:
		m.VideoEnabled = enabled
	case MediaAudio:
		m.AudioEnabled = enabled
	}
}

func (m MediaState) Enabled(kind MediaKind) bool {
	if kind == MediaVideo {
		return m.VideoEnabled
	}
	return m.AudioEnabled
}
