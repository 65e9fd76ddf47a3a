package mesh

import (
	"context"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/media"
	"github.com/dkeye/Huddle/internal/transfer"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

type LinkState int

const (
	LinkIdle LinkState = iota
	LinkNegotiating
	LinkStable
	LinkConnected
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkNegotiating:
		return "negotiating"
	case LinkStable:
		return "stable"
	case LinkConnected:
		return "connected"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// LinkInfo is a read-only view of a PeerLink.
type LinkInfo struct {
	Remote  core.SessionID
	Role    Role
	State   LinkState
	Files   bool
	Streams int
	Err     error
}

// PeerLink is the connection to one remote session: the peer connection,
// its file channel and the remote streams it carries.
type PeerLink struct {
	Remote core.SessionID

	conn   core.MediaConnection
	cancel context.CancelFunc
	logger zerolog.Logger

	mu        sync.Mutex
	role      Role
	state     LinkState
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	files     *transfer.Conn
	streams   []*media.RemoteStream
	err       error
}

func (l *PeerLink) Info() LinkInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LinkInfo{
		Remote:  l.Remote,
		Role:    l.role,
		State:   l.state,
		Files:   l.files != nil && l.files.IsOpen(),
		Streams: len(l.streams),
		Err:     l.err,
	}
}

func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *PeerLink) setState(s LinkState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed || l.state == s {
		return false
	}
	l.state = s
	return true
}

// fileConn returns the file channel if it is usable.
func (l *PeerLink) fileConn() *transfer.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed || l.files == nil {
		return nil
	}
	return l.files
}

func (l *PeerLink) setFiles(fc *transfer.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed {
		return false
	}
	if l.files != nil {
		l.logger.Warn().Msg("second file channel ignored")
		return false
	}
	l.files = fc
	return true
}

func (l *PeerLink) addStream(s *media.RemoteStream) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed {
		return false
	}
	l.streams = append(l.streams, s)
	return true
}

// remoteApplied marks the remote description as set and returns the
// candidates that arrived before it.
func (l *PeerLink) remoteApplied() []webrtc.ICECandidateInit {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remoteSet = true
	if l.state == LinkNegotiating {
		l.state = LinkStable
	}
	pending := l.pending
	l.pending = nil
	return pending
}

// addCandidate applies c, or queues it until the remote description is set.
func (l *PeerLink) addCandidate(c webrtc.ICECandidateInit) {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	l.applyCandidate(c)
}

func (l *PeerLink) applyCandidate(c webrtc.ICECandidateInit) {
	if err := l.conn.AddICECandidate(c); err != nil {
		l.logger.Debug().Err(err).Msg("candidate dropped")
	}
}

// close tears the link down once. Pending sends on the file channel are
// released and partial inbound transfers are discarded.
func (l *PeerLink) close(cause error) bool {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return false
	}
	l.state = LinkClosed
	l.err = cause
	files := l.files
	streams := l.streams
	l.streams = nil
	l.pending = nil
	l.mu.Unlock()

	if files != nil {
		_ = files.Close()
	}
	for _, s := range streams {
		s.Stop()
	}
	l.cancel()
	l.conn.Close()
	if cause != nil {
		l.logger.Warn().Err(cause).Msg("peer link closed")
	} else {
		l.logger.Info().Msg("peer link closed")
	}
	return true
}
