package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// Outgoing describes one file to send.
type Outgoing struct {
	ID   string
	Name string
	Size int64
	Data io.ReaderAt
}

func NewOutgoing(name string, data io.ReaderAt, size int64) Outgoing {
	return Outgoing{ID: uuid.NewString(), Name: name, Size: size, Data: data}
}

type Progress struct {
	Peer  core.SessionID
	ID    string
	Sent  int64
	Total int64
}

func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Sent) / float64(p.Total)
}

type ProgressFunc func(Progress)

// Send streams out over c: file-meta, the chunks in order, then
// file-complete. Progress is reported after every chunk.
func Send(ctx context.Context, c *Conn, out Outgoing, progress ProgressFunc) error {
	logger := log.With().
		Str("module", "transfer").
		Str("peer", string(c.Peer)).
		Str("transfer_id", out.ID).
		Logger()

	meta := Message{Type: TypeMeta, ID: out.ID, Name: out.Name, Size: out.Size}
	if err := c.write(ctx, meta); err != nil {
		return wrapError("send meta", out.ID, c.Peer, err)
	}
	logger.Info().Str("name", out.Name).Int64("size", out.Size).Msg("transfer started")

	buf := make([]byte, ChunkSize)
	var off int64
	for off < out.Size {
		n := min(int64(ChunkSize), out.Size-off)
		read, err := out.Data.ReadAt(buf[:n], off)
		if int64(read) < n {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return wrapError("read", out.ID, c.Peer, err)
		}
		chunk := Message{Type: TypeChunk, ID: out.ID, Data: buf[:n], ByteLength: int(n)}
		if err := c.write(ctx, chunk); err != nil {
			return wrapError("send chunk", out.ID, c.Peer, err)
		}
		off += n
		logger.Debug().Int64("sent", off).Msg("chunk sent")
		if progress != nil {
			progress(Progress{Peer: c.Peer, ID: out.ID, Sent: off, Total: out.Size})
		}
	}

	if err := c.write(ctx, Message{Type: TypeComplete, ID: out.ID}); err != nil {
		return wrapError("send complete", out.ID, c.Peer, err)
	}
	logger.Info().Msg("transfer complete")
	return nil
}

// Broadcast sends the same file to every conn concurrently. A failing peer
// does not stop the others; the joined errors are returned.
func Broadcast(ctx context.Context, conns []*Conn, out Outgoing, progress ProgressFunc) error {
	if len(conns) == 0 {
		return fmt.Errorf("transfer %s: no open file channels", out.ID)
	}
	p := pool.New().WithErrors().WithContext(ctx)
	for _, c := range conns {
		p.Go(func(ctx context.Context) error {
			one := out
			one.Data = io.NewSectionReader(out.Data, 0, out.Size)
			return Send(ctx, c, one, progress)
		})
	}
	return p.Wait()
}
