package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Conn is the file channel towards one peer. It owns the channel's open,
// close and buffered-amount-low callbacks; a Receiver attached to it owns
// the message callback.
type Conn struct {
	Peer core.SessionID

	ch    core.DataChannel
	codec Codec

	openOnce  sync.Once
	opened    chan struct{}
	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.Mutex
	low     chan struct{} // closed and replaced on every low-water event
	onClose []func()
}

func NewConn(peer core.SessionID, ch core.DataChannel, codec Codec) *Conn {
	if codec == nil {
		codec = JSONCodec
	}
	c := &Conn{
		Peer:   peer,
		ch:     ch,
		codec:  codec,
		opened: make(chan struct{}),
		closed: make(chan struct{}),
		low:    make(chan struct{}),
	}
	ch.SetBufferedAmountLowThreshold(LowWaterMark)
	ch.OnBufferedAmountLow(c.signalLow)
	ch.OnOpen(c.markOpen)
	ch.OnClose(c.markClosed)
	switch ch.ReadyState() {
	case webrtc.DataChannelStateOpen:
		c.markOpen()
	case webrtc.DataChannelStateClosing, webrtc.DataChannelStateClosed:
		c.markClosed()
	}
	return c
}

func (c *Conn) Codec() Codec { return c.codec }

func (c *Conn) Done() <-chan struct{} { return c.closed }

func (c *Conn) IsOpen() bool {
	select {
	case <-c.closed:
		return false
	case <-c.opened:
		return true
	default:
		return false
	}
}

// Close releases every pending send with ErrTransferAborted and closes the
// underlying channel.
func (c *Conn) Close() error {
	c.markClosed()
	return c.ch.Close()
}

func (c *Conn) markOpen() {
	c.openOnce.Do(func() {
		log.Debug().Str("module", "transfer").Str("peer", string(c.Peer)).Msg("file channel open")
		close(c.opened)
	})
}

func (c *Conn) markClosed() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		hooks := c.onClose
		c.onClose = nil
		c.mu.Unlock()
		for _, fn := range hooks {
			fn()
		}
		log.Debug().Str("module", "transfer").Str("peer", string(c.Peer)).Msg("file channel closed")
	})
}

// whenClosed runs fn once the channel closes, immediately if it already has.
func (c *Conn) whenClosed(fn func()) {
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		fn()
		return
	default:
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

func (c *Conn) signalLow() {
	c.mu.Lock()
	close(c.low)
	c.low = make(chan struct{})
	c.mu.Unlock()
}

func (c *Conn) waitOpen(ctx context.Context) error {
	select {
	case <-c.closed:
		return ErrTransferAborted
	default:
	}
	select {
	case <-c.opened:
		return nil
	case <-c.closed:
		return ErrTransferAborted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitWindow blocks while the channel holds more than HighWaterMark bytes.
func (c *Conn) waitWindow(ctx context.Context) error {
	for {
		c.mu.Lock()
		low := c.low
		c.mu.Unlock()

		select {
		case <-c.closed:
			return ErrTransferAborted
		default:
		}
		if c.ch.BufferedAmount() <= HighWaterMark {
			return nil
		}
		select {
		case <-low:
		case <-c.closed:
			return ErrTransferAborted
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) write(ctx context.Context, m Message) error {
	if err := c.waitOpen(ctx); err != nil {
		return err
	}
	if err := c.waitWindow(ctx); err != nil {
		return err
	}
	b, err := c.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Type, err)
	}
	if c.codec.Binary() {
		err = c.ch.Send(b)
	} else {
		err = c.ch.SendText(string(b))
	}
	if err != nil {
		select {
		case <-c.closed:
			return ErrTransferAborted
		default:
		}
		return err
	}
	return nil
}
