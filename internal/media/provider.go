package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrMediaAcquisition = errors.New("media acquisition failed")

// Source opens the local capture devices.
type Source interface {
	Open(ctx context.Context) (*Local, error)
}

type SourceFunc func(ctx context.Context) (*Local, error)

func (f SourceFunc) Open(ctx context.Context) (*Local, error) { return f(ctx) }

// StaticSource creates outbound tracks for the requested kinds. Packets are
// supplied by whoever owns the capture pipeline through LocalTrack.WriteRTP.
func StaticSource(video, audio bool) Source {
	return SourceFunc(func(context.Context) (*Local, error) {
		var kinds []domain.MediaKind
		if video {
			kinds = append(kinds, domain.MediaVideo)
		}
		if audio {
			kinds = append(kinds, domain.MediaAudio)
		}
		if len(kinds) == 0 {
			return nil, errors.New("no capture devices")
		}
		return NewLocal(uuid.NewString(), kinds...)
	})
}

// Unavailable is a Source that always fails.
func Unavailable(reason error) Source {
	return SourceFunc(func(context.Context) (*Local, error) {
		return nil, reason
	})
}

// Provider acquires local media once and hands the same tracks to every
// peer link. A failed acquisition is cached too: callers carry on without
// local tracks.
type Provider struct {
	src Source

	mu    sync.Mutex
	done  bool
	local *Local
	err   error
}

func NewProvider(src Source) *Provider {
	return &Provider{src: src}
}

func (p *Provider) Acquire(ctx context.Context) (*Local, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return p.local, p.err
	}

	local, err := p.src.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.err = fmt.Errorf("%w: %w", ErrMediaAcquisition, err)
		p.done = true
		log.Warn().Err(err).Str("module", "media").Msg("local media unavailable, continuing without tracks")
		return nil, p.err
	}
	p.local = local
	p.done = true
	log.Info().Str("module", "media").Int("tracks", len(local.Tracks())).Msg("local media acquired")
	return p.local, nil
}

// Current returns the acquired media, or nil.
func (p *Provider) Current() *Local {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local != nil {
		p.local.Close()
	}
}
