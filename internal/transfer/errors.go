package transfer

import (
	"errors"
	"fmt"

	"github.com/dkeye/Huddle/internal/core"
)

var (
	ErrTransferAborted = errors.New("transfer aborted")
	ErrSizeMismatch    = errors.New("received size does not match announced size")
	ErrUnknownTransfer = errors.New("unknown transfer")
	ErrUnknownMessage  = errors.New("unknown message type")
)

// TransferError carries the failing step and the transfer it belongs to.
type TransferError struct {
	Op   string
	ID   string
	Peer core.SessionID
	Err  error
}

func (e *TransferError) Error() string {
	if e.Peer == "" {
		return fmt.Sprintf("transfer %s: %s: %v", e.ID, e.Op, e.Err)
	}
	return fmt.Sprintf("transfer %s to %s: %s: %v", e.ID, e.Peer, e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func wrapError(op, id string, peer core.SessionID, err error) error {
	if err == nil {
		return nil
	}
	return &TransferError{Op: op, ID: id, Peer: peer, Err: err}
}
