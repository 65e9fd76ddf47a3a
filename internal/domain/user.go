// Package domain contains entity without logic, just meta-data
package domain

import (
	"strings"
	"unicode/utf8"
)

const (
	MaxUsernameLen  = 64
	DefaultUsername = "guest"
)

type UserID string

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// NormalizeUsername trims the display name and cuts it to MaxUsernameLen runes.
// Names are not unique and are never rejected; an empty one becomes DefaultUsername.
func NormalizeUsername(username string) string {
	username = strings.TrimSpace(username)
	if username == "" {
		return DefaultUsername
	}
	if utf8.RuneCountInString(username) <= MaxUsernameLen {
		return username
	}
	r := []rune(username)
	return string(r[:MaxUsernameLen])
}
