package app

import "github.com/dkeye/Huddle/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens when a session's outbound queue is full.
type Policy interface {
	OnBackPressure(session core.SessionInfo) BackpressureAction
}

// SimplePolicy kicks slow sessions.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.SessionInfo) BackpressureAction {
	return KickMember
}

// DropPolicy drops the frame and keeps the session.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.SessionInfo) BackpressureAction {
	return DropFrame
}
