package sessions

import "errors"

var (
	ErrNilSession = errors.New("nil session")
	ErrUnreadable = errors.New("stored session unreadable")
)
