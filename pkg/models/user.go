package models

// User is an opaque verified identity reference; the engine never mutates it.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	// PasswordHash is a bcrypt hash; never serialized to clients.
	PasswordHash string `json:"password_hash,omitempty"`
	CreatedTS    int64  `json:"created_ts,omitempty"`
}

// Public returns a copy safe to serialize to clients.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}
