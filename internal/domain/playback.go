package domain

import "time"

// PlaybackAction is one of the host's transport controls.
type PlaybackAction string

const (
	ActionPlay  PlaybackAction = MsgTypePlay
	ActionPause PlaybackAction = MsgTypePause
	ActionSeek  PlaybackAction = MsgTypeSeek
)

// Valid reports whether a is a known action.
func (a PlaybackAction) Valid() bool {
	switch a {
	case ActionPlay, ActionPause, ActionSeek:
		return true
	}
	return false
}

// PlaybackState is the last position reported by a room's host.
type PlaybackState struct {
	IsPlaying   bool      `json:"isPlaying"`
	CurrentTime float64   `json:"currentTime"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Apply returns the state after action. Seek keeps the play flag.
func (s PlaybackState) Apply(action PlaybackAction, currentTime float64, at time.Time) PlaybackState {
	switch action {
	case ActionPlay:
		s.IsPlaying = true
	case ActionPause:
		s.IsPlaying = false
	}
	s.CurrentTime = currentTime
	s.UpdatedAt = at
	return s
}
