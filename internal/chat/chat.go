// Package chat holds the conversational domain model: threads, turns, and
// their attachments. It is a pure data package with no I/O.
package chat

import (
	"time"
)

// Role attributes a turn to one of the three conversational parties.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Image is an inline image attachment carried by a turn.
// Data is the raw base64 payload without a data-URL prefix.
type Image struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// File is a typed document attachment. Its extracted text is appended to the
// turn content before dispatch; the raw bytes never reach the provider.
type File struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Data     []byte `json:"data,omitempty"`
}

// Turn is one message in a thread. Turns are immutable once appended except
// through the engine's explicit edit operation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Images    []Image   `json:"images,omitempty"`
	Files     []File    `json:"files,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Thread is an ordered, titled sequence of turns. Order is significant:
// position encodes conversational causality. A leading system turn carries
// injected context (remembered facts); it is sent to the provider but is not
// a visible chat bubble.
type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasSystemTurn reports whether the thread starts with an injected system turn.
func (t *Thread) HasSystemTurn() bool {
	return len(t.Turns) > 0 && t.Turns[0].Role == RoleSystem
}

// UserTurnCount returns the number of user turns in the thread.
func (t *Thread) UserTurnCount() int {
	n := 0
	for _, turn := range t.Turns {
		if turn.Role == RoleUser {
			n++
		}
	}
	return n
}

// titleLimit is the maximum rune length of a derived thread title.
const titleLimit = 35

// DeriveTitle builds a thread title from the first user message: the text
// truncated to 35 runes, with an ellipsis appended only when truncated.
func DeriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= titleLimit {
		return text
	}
	return string(runes[:titleLimit]) + "..."
}

// Clone returns a deep copy of the thread so callers can mutate a candidate
// turn list without touching the original.
func (t *Thread) Clone() *Thread {
	cp := *t
	cp.Turns = CloneTurns(t.Turns)
	return &cp
}

// CloneTurns deep-copies a turn slice including attachment slices.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	for i := range out {
		if out[i].Images != nil {
			imgs := make([]Image, len(out[i].Images))
			copy(imgs, out[i].Images)
			out[i].Images = imgs
		}
		if out[i].Files != nil {
			files := make([]File, len(out[i].Files))
			copy(files, out[i].Files)
			out[i].Files = files
		}
	}
	return out
}
