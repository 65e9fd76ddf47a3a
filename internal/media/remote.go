package media

import (
	"context"
	"sync/atomic"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sink receives packets of remote streams, e.g. a renderer or recorder.
type Sink interface {
	WriteRTP(from core.SessionID, kind domain.MediaKind, pkt *rtp.Packet) error
}

type SinkFunc func(from core.SessionID, kind domain.MediaKind, pkt *rtp.Packet) error

func (f SinkFunc) WriteRTP(from core.SessionID, kind domain.MediaKind, pkt *rtp.Packet) error {
	return f(from, kind, pkt)
}

// PacketReader yields the next packet of a remote track.
type PacketReader func() (*rtp.Packet, error)

// RemoteStream pumps one inbound track into a Sink until the owning peer link
// goes away.
type RemoteStream struct {
	From core.SessionID
	Kind domain.MediaKind

	read    PacketReader
	cancel  context.CancelFunc
	done    chan struct{}
	packets atomic.Uint64
}

func StartRemoteStream(ctx context.Context, from core.SessionID, kind domain.MediaKind, read PacketReader, sink Sink) *RemoteStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &RemoteStream{
		From:   from,
		Kind:   kind,
		read:   read,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	logger := log.With().
		Str("module", "media.remote").
		Str("peer", string(from)).
		Str("kind", string(kind)).
		Logger()
	go s.loop(ctx, sink, &logger)
	return s
}

func (s *RemoteStream) loop(ctx context.Context, sink Sink, logger *zerolog.Logger) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("remote stream ctx done")
			return
		default:
		}
		pkt, err := s.read()
		if err != nil {
			logger.Debug().Err(err).Msg("remote stream read ended")
			return
		}
		s.packets.Add(1)
		if sink == nil {
			continue
		}
		if err := sink.WriteRTP(s.From, s.Kind, pkt); err != nil {
			logger.Error().Err(err).Msg("sink write error, dropping sink")
			sink = nil
		}
	}
}

func (s *RemoteStream) Stop() { s.cancel() }

func (s *RemoteStream) Done() <-chan struct{} { return s.done }

func (s *RemoteStream) Packets() uint64 { return s.packets.Load() }
