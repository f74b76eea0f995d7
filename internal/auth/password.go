package auth

import "golang.org/x/crypto/bcrypt"

// HashPassword hashes a plaintext password with configured cost.
func HashPassword(password string, cost int) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword verifies a password against its hashed value.
func ComparePassword(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}

// ResolvePasswordHash returns the configured hash, deriving one from
// the plaintext password at the configured cost when only that is set.
// Returns empty when neither is configured; admin login stays disabled.
func ResolvePasswordHash(hash, password string, cost int) (string, error) {
	if hash != "" {
		return hash, nil
	}
	if password == "" {
		return "", nil
	}
	return HashPassword(password, cost)
}
