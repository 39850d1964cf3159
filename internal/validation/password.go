package validation

import (
	"errors"
)

// ValidatePassword checks an optional secret password.
// Empty means the secret is not protected.
func ValidatePassword(password string) error {
	if password == "" {
		return nil
	}

	// Maximum length: 72 bytes (bcrypt limitation)
	// bcrypt silently truncates longer passwords, so two different
	// passwords could unlock the same secret
	if len(password) > 72 {
		return errors.New("password must not exceed 72 bytes")
	}

	return nil
}
