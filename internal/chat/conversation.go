package chat

import "time"

// Profile is the public identity of a user.
type Profile struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
	Avatar    string `json:"avatar"`
}

// DisplayName prefers the full name and falls back to the username.
func (p Profile) DisplayName() string {
	if p.FirstName == "" {
		return p.Username
	}
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Conversation is a two-party thread.
type Conversation struct {
	ID               string    `json:"_id"`
	Participants     []Profile `json:"participants"`
	LastMessage      *Message  `json:"lastMessage,omitempty"`
	LastMessageAt    time.Time `json:"lastMessageAt"`
	UnreadCount      int       `json:"unreadCount"`
	OtherParticipant Profile   `json:"otherParticipant"`
}

// Peer returns the participant that is not self. When the server already
// resolved OtherParticipant it wins.
func (c *Conversation) Peer(selfID string) Profile {
	if c.OtherParticipant.ID != "" {
		return c.OtherParticipant
	}
	for _, p := range c.Participants {
		if p.ID != selfID {
			return p
		}
	}
	return Profile{}
}
