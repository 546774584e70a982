package core

import (
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// EntryKind tells a renderer how to display an entry's content.
type EntryKind string

const (
	EntryText  EntryKind = "text"
	EntryImage EntryKind = "image"
	EntryAudio EntryKind = "audio"
)

// TranscriptEntry is one rendered line of the conversation.
type TranscriptEntry struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Kind      EntryKind `json:"kind"`
	Content   any       `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTranscriptEntry builds an entry with a fresh ID. The role label is
// capitalised the way transcripts display it ("user" -> "User").
func NewTranscriptEntry(role string, kind EntryKind, content any) TranscriptEntry {
	return TranscriptEntry{
		ID:        uuid.New().String(),
		Role:      Capitalize(role),
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Text returns the entry content as display text.
func (e TranscriptEntry) Text() string {
	if e.Content == nil {
		return ""
	}
	if s, ok := e.Content.(string); ok {
		return s
	}
	return fmt.Sprint(e.Content)
}

// Capitalize upper-cases the first rune of s.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
