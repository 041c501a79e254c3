package models

type Chat struct {
	ID string `json:"id"`
	// Users holds exactly two participant ids in the current scope.
	Users []string `json:"users"`
	// LatestMessage references the most recent message, when any.
	LatestMessage string `json:"latest_message,omitempty"`
	CreatedTS     int64  `json:"created_ts,omitempty"`
	UpdatedTS     int64  `json:"updated_ts,omitempty"`
}

// HasParticipant reports whether user is one of the chat's participants.
func (c *Chat) HasParticipant(user string) bool {
	for _, id := range c.Users {
		if id == user {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not user, or empty when
// user is not a participant.
func (c *Chat) OtherParticipant(user string) string {
	if !c.HasParticipant(user) {
		return ""
	}
	for _, id := range c.Users {
		if id != user {
			return id
		}
	}
	return ""
}
