package auth

import "golang.org/x/crypto/bcrypt"

// Passwords hashes and checks session passwords with bcrypt.
type Passwords struct {
	Cost int
}

// NewPasswords clamps cost into bcrypt's accepted range.
func NewPasswords(cost int) *Passwords {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	cost = max(cost, bcrypt.MinCost)
	cost = min(cost, bcrypt.MaxCost)
	return &Passwords{Cost: cost}
}

// Hash returns the bcrypt hash of password. An empty password hashes to "" so that the
// session stays open.
func (p *Passwords) Hash(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), p.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Check reports whether password opens a session protected by hash.
func (p *Passwords) Check(hash, password string) bool {
	if hash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
