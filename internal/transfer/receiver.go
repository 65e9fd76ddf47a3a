package transfer

import (
	"bytes"
	"errors"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// File is a completely received transfer.
type File struct {
	ID   string
	Name string
	From core.SessionID
	Data []byte
}

type transferKey struct {
	peer core.SessionID
	id   string
}

type incoming struct {
	name     string
	size     int64
	chunks   [][]byte
	received int64
}

// Receiver reassembles inbound transfers. Partial data is never handed out:
// a transfer is either delivered whole through OnFile or dropped through
// OnAbort.
type Receiver struct {
	OnFile     func(File)
	OnAbort    func(peer core.SessionID, id string, err error)
	OnProgress func(Progress)

	mu      sync.Mutex
	pending map[transferKey]*incoming
}

func NewReceiver(onFile func(File), onAbort func(core.SessionID, string, error)) *Receiver {
	return &Receiver{
		OnFile:  onFile,
		OnAbort: onAbort,
		pending: make(map[transferKey]*incoming),
	}
}

// Attach routes the conn's inbound frames into r.
func (r *Receiver) Attach(c *Conn) {
	c.ch.OnMessage(func(frame webrtc.DataChannelMessage) {
		m, err := Decode(frame)
		if err != nil {
			log.Warn().Err(err).Str("module", "transfer").Str("peer", string(c.Peer)).Msg("bad frame dropped")
			return
		}
		r.Handle(c.Peer, m)
	})
	c.whenClosed(func() { r.abandon(c.Peer) })
}

// Pending reports how many transfers are in flight.
func (r *Receiver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Receiver) Handle(from core.SessionID, m Message) {
	logger := log.With().
		Str("module", "transfer").
		Str("peer", string(from)).
		Str("transfer_id", m.ID).
		Logger()
	key := transferKey{peer: from, id: m.ID}

	switch m.Type {
	case TypeMeta:
		r.mu.Lock()
		if r.pending == nil {
			r.pending = make(map[transferKey]*incoming)
		}
		_, replaced := r.pending[key]
		r.pending[key] = &incoming{name: m.Name, size: m.Size}
		r.mu.Unlock()
		if replaced {
			logger.Warn().Msg("transfer restarted, earlier chunks dropped")
		}
		logger.Info().Str("name", m.Name).Int64("size", m.Size).Msg("incoming transfer")

	case TypeChunk:
		r.mu.Lock()
		rec, ok := r.pending[key]
		if ok {
			rec.chunks = append(rec.chunks, m.Data)
			rec.received += int64(len(m.Data))
		}
		var p Progress
		if ok {
			p = Progress{Peer: from, ID: m.ID, Sent: rec.received, Total: rec.size}
		}
		r.mu.Unlock()
		if !ok {
			logger.Warn().Err(ErrUnknownTransfer).Msg("chunk dropped")
			return
		}
		if m.ByteLength != len(m.Data) {
			logger.Warn().Int("byte_length", m.ByteLength).Int("len", len(m.Data)).Msg("chunk length disagrees with header")
		}
		if r.OnProgress != nil {
			r.OnProgress(p)
		}

	case TypeComplete:
		r.mu.Lock()
		rec, ok := r.pending[key]
		delete(r.pending, key)
		r.mu.Unlock()
		if !ok {
			logger.Debug().Msg("complete for unknown transfer ignored")
			return
		}
		if rec.received != rec.size {
			logger.Warn().Int64("received", rec.received).Int64("size", rec.size).Msg("transfer discarded")
			r.abort(from, m.ID, ErrSizeMismatch)
			return
		}
		f := File{ID: m.ID, Name: rec.name, From: from, Data: bytes.Join(rec.chunks, nil)}
		logger.Info().Int64("size", rec.size).Msg("transfer received")
		if r.OnFile != nil {
			r.OnFile(f)
		}

	default:
		logger.Warn().Err(ErrUnknownMessage).Str("type", m.Type).Msg("frame dropped")
	}
}

// abandon drops every partial transfer from peer.
func (r *Receiver) abandon(peer core.SessionID) {
	r.mu.Lock()
	var ids []string
	for key := range r.pending {
		if key.peer == peer {
			ids = append(ids, key.id)
			delete(r.pending, key)
		}
	}
	r.mu.Unlock()
	for _, id := range ids {
		log.Info().Str("module", "transfer").Str("peer", string(peer)).Str("transfer_id", id).Msg("partial transfer discarded")
		r.abort(peer, id, ErrTransferAborted)
	}
}

func (r *Receiver) abort(peer core.SessionID, id string, err error) {
	if r.OnAbort != nil {
		r.OnAbort(peer, id, wrapError("receive", id, peer, err))
	}
}

// IsAborted reports whether err ended a transfer early.
func IsAborted(err error) bool {
	return errors.Is(err, ErrTransferAborted)
}
