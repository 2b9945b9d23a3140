// Package notification provides the journey notification log, the copy
// catalog the log entries are rendered from, and optional outbound delivery
// of log entries over email, SMS and chat-app channels.
package notification

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Channels
// ---------------------------------------------------------------------------

// Channel is the medium a notification is addressed to.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelChat  Channel = "CHAT"
)

// IsValid reports whether c is a known channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelChat:
		return true
	}
	return false
}

// ParseChannel parses a channel name. "WHATSAPP", the browser simulation's
// name for the chat channel, is read as CHAT.
func ParseChannel(s string) (Channel, error) {
	if s == "WHATSAPP" {
		return ChannelChat, nil
	}
	c := Channel(s)
	if !c.IsValid() {
		return "", fmt.Errorf("unknown notification channel %q", s)
	}
	return c, nil
}

// UnmarshalText validates channel names read from JSON.
func (c *Channel) UnmarshalText(b []byte) error {
	parsed, err := ParseChannel(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ---------------------------------------------------------------------------
// Notification
// ---------------------------------------------------------------------------

// Notification is a single synthetic outbound message produced by a journey
// transition.
type Notification struct {
	ID        string    `json:"id"`
	Channel   Channel   `json:"channel"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	Read      bool      `json:"read"`
}

// ---------------------------------------------------------------------------
// Log
// ---------------------------------------------------------------------------

// Log is the ordered notification feed, newest first. Index 0 is always the
// most recently prepended entry.
type Log []Notification

// Prepend returns a log with n inserted at the front. The receiver is not
// modified.
func (l Log) Prepend(n ...Notification) Log {
	out := make(Log, 0, len(l)+len(n))
	// Entries passed together are in emission order; the last emitted is newest.
	for i := len(n) - 1; i >= 0; i-- {
		out = append(out, n[i])
	}
	return append(out, l...)
}

// MarkRead sets Read on the entry with the given id. It reports whether an
// entry matched; an unknown id leaves the log untouched.
func (l Log) MarkRead(id string) bool {
	for i := range l {
		if l[i].ID == id {
			l[i].Read = true
			return true
		}
	}
	return false
}

// Unread counts entries that have not been read.
func (l Log) Unread() int {
	n := 0
	for _, e := range l {
		if !e.Read {
			n++
		}
	}
	return n
}

// Find returns the entry with the given id.
func (l Log) Find(id string) (Notification, bool) {
	for _, e := range l {
		if e.ID == id {
			return e, true
		}
	}
	return Notification{}, false
}

// Clone returns an independent copy of the log.
func (l Log) Clone() Log {
	if l == nil {
		return nil
	}
	out := make(Log, len(l))
	copy(out, l)
	return out
}

// Page returns a window of the log for paginated listing.
func (l Log) Page(limit, offset int) Log {
	if offset >= len(l) {
		return Log{}
	}
	end := offset + limit
	if end > len(l) {
		end = len(l)
	}
	return l[offset:end]
}
