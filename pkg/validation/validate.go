package validation

import (
	"fmt"
	"strings"
)

const (
	maxContentLen = 8192
	maxNameLen    = 128
)

// ValidateContent checks inline message content bounds.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("content required")
	}
	if len(content) > maxContentLen {
		return fmt.Errorf("content too long (max %d bytes)", maxContentLen)
	}
	return nil
}

// ValidateRegistration checks user registration fields.
func ValidateRegistration(name, email, password string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name required")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("name too long (max %d bytes)", maxNameLen)
	}
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email")
	}
	if len(password) < 8 {
		return fmt.Errorf("password too short (min 8 chars)")
	}
	return nil
}
