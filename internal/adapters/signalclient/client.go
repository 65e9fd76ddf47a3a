// Package signalclient is the room client's side of the signaling socket.
package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	writeWait         = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultReadLimit  = 1 << 20
	defaultBufferSize = 64

	// SignalPath is where the coordinator serves the signaling socket.
	SignalPath = "/api/ws/signal"
)

var ErrClosed = errors.New("signaling connection closed")

type Options struct {
	Username   string
	PingPeriod time.Duration
	PongWait   time.Duration
	ReadLimit  int64
	Buffer     int
	Header     http.Header
}

// Client manages the websocket to the coordinator. Inbound envelopes are
// delivered in order on Incoming, which is closed when the socket dies.
type Client struct {
	conn     *websocket.Conn
	incoming chan protocol.Envelope
	outgoing chan []byte
	done     chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// SignalURL turns a server address (http, https, ws or wss, with or without
// a path) into the signaling endpoint URL.
func SignalURL(server, username string) (string, error) {
	if !strings.Contains(server, "://") {
		server = "ws://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server URL: unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = SignalPath
	}
	if username != "" {
		q := u.Query()
		q.Set("username", username)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func Dial(ctx context.Context, server string, opts Options) (*Client, error) {
	target, err := SignalURL(server, opts.Username)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	c := &Client{
		conn:     conn,
		incoming: make(chan protocol.Envelope, buffer),
		outgoing: make(chan []byte, buffer),
		done:     make(chan struct{}),
	}

	readLimit := opts.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	pongWait := opts.PongWait
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	pingPeriod := opts.PingPeriod
	if pingPeriod <= 0 || pingPeriod >= pongWait {
		pingPeriod = pongWait * 9 / 10
	}
	conn.SetReadLimit(readLimit)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	log.Info().Str("module", "signalclient").Str("url", target).Msg("connected")
	go c.readPump(pongWait)
	go c.writePump(pingPeriod)
	return c, nil
}

func (c *Client) readPump(pongWait time.Duration) {
	defer func() {
		close(c.incoming)
		c.shutdown(nil)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "signalclient").Msg("readPump read error")
			}
			c.shutdown(err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "signalclient").Msg("bad frame dropped")
			continue
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signalclient").Msg("writePump write error")
				c.shutdown(err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(err)
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Client) Incoming() <-chan protocol.Envelope { return c.incoming }

func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended; nil after a local Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}

// Send queues a typed message.
func (c *Client) Send(typ string, payload any) error {
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) CreateRoom(name, password string) error {
	return c.Send(protocol.TypeCreateRoom, protocol.RoomRequest{RoomName: name, Password: password})
}

func (c *Client) JoinRoom(name, password string) error {
	return c.Send(protocol.TypeJoinRoom, protocol.RoomRequest{RoomName: name, Password: password})
}

func (c *Client) LeaveRoom(name string) error {
	return c.Send(protocol.TypeLeaveRoom, protocol.LeaveRoom{RoomName: name})
}

func (c *Client) MediaState(room, kind string, enabled bool) error {
	return c.Send(protocol.TypeMediaStateChange, protocol.MediaState{RoomName: room, Kind: kind, Enabled: enabled})
}

func (c *Client) Chat(room, text string) error {
	return c.Send(protocol.TypeChatMessage, protocol.ChatIn{RoomName: room, Text: text})
}

func (c *Client) Ping() error {
	return c.Send(protocol.TypePing, nil)
}

func (c *Client) Offer(to core.SessionID, sdp string) error {
	return c.Send(protocol.TypeOffer, protocol.Signal{To: string(to), SDP: sdp})
}

func (c *Client) Answer(to core.SessionID, sdp string) error {
	return c.Send(protocol.TypeAnswer, protocol.Signal{To: string(to), SDP: sdp})
}

func (c *Client) Candidate(to core.SessionID, cand webrtc.ICECandidateInit) error {
	raw, err := json.Marshal(cand)
	if err != nil {
		return fmt.Errorf("marshal candidate: %w", err)
	}
	return c.Send(protocol.TypeCandidate, protocol.Signal{To: string(to), Candidate: raw})
}
