package domain

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrIncorrectPassword = errors.New("incorrect password")
	ErrPasswordRequired  = errors.New("password required")
	ErrRoomNameEmpty     = errors.New("room name empty")
	ErrTooManyAttempts   = errors.New("too many attempts")
	ErrNotInRoom         = errors.New("not in room")
)

var joinErrors = []error{
	ErrRoomNotFound,
	ErrIncorrectPassword,
	ErrPasswordRequired,
	ErrRoomNameEmpty,
	ErrTooManyAttempts,
}

// ParseJoinError maps a join_room_error message back to its sentinel so
// callers on the client side can use errors.Is.
func ParseJoinError(msg string) error {
	for _, err := range joinErrors {
		if err.Error() == msg {
			return err
		}
	}
	return errors.New(msg)
}
