package model

import "time"

// Chat is a two-party conversation.
//
// Users always holds exactly two participant ids, sorted ascending. At most
// one chat exists per unordered pair.
type Chat struct {
	ID       string    `json:"id"`
	Users    []string  `json:"users"`
	Messages []Message `json:"messages"`
}

// Has reports whether uid participates in the chat.
func (c Chat) Has(uid string) bool {
	for _, u := range c.Users {
		if u == uid {
			return true
		}
	}
	return false
}

// Other returns the participant that is not uid.
func (c Chat) Other(uid string) string {
	for _, u := range c.Users {
		if u != uid {
			return u
		}
	}
	return ""
}

// Message is an append-only entry in a chat. Ordering is Timestamp ascending.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
	Received  bool      `json:"received"`
}

// Pair returns a and b sorted, the canonical participant order of a chat.
func Pair(a, b string) [2]string {
	if b < a {
		return [2]string{b, a}
	}
	return [2]string{a, b}
}
