package middleware

import (
	"errors"
	"unicode/utf8"
)

// ValidateSessionID validates an orchestration session ID. Session IDs are
// worker-generated opaque strings, not necessarily UUIDs.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("session ID exceeds maximum length")
	}
	for _, r := range id {
		if !isIDRune(r) {
			return errors.New("session ID contains invalid characters")
		}
	}
	return nil
}

// ValidateThreadID validates an external thread identifier.
func ValidateThreadID(id string) error {
	if id == "" {
		return errors.New("thread ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("thread ID exceeds maximum length")
	}
	for _, r := range id {
		if !isIDRune(r) {
			return errors.New("thread ID contains invalid characters")
		}
	}
	return nil
}

// ValidateMessageContent validates context-window message content.
func ValidateMessageContent(content string) error {
	if len(content) > 1_000_000 {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

func isIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == ':' || r == '.':
		return true
	}
	return false
}
