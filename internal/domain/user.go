package domain

import "strings"

// User is the external messaging identity a ticket belongs to. It is
// provided by the gateway on every inbound update; only routing metadata
// is retained here.
type User struct {
	ID        string
	Username  string
	FirstName string
	LastName  string
	Language  string
}

// DisplayName renders the best available human label for thread names
// and routing headers.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.ID
}
