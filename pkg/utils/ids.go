package utils

import "github.com/google/uuid"

// GenMessageID returns a new unique message id.
func GenMessageID() string { return "msg-" + uuid.NewString() }

// GenChatID returns a new unique chat id.
func GenChatID() string { return "chat-" + uuid.NewString() }

// GenUserID returns a new unique user id.
func GenUserID() string { return "usr-" + uuid.NewString() }
