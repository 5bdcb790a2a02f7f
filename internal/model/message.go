package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a conversation message fed to the context window manager.
// Messages are transient: supplied fresh per call, with no persistent identity.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Tokens     int        `json:"tokens,omitempty"`
	Importance float64    `json:"importance,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}
