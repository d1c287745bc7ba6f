package models

import "time"

// User is an identity supplied by the authentication layer. Only the id and
// email address matter to the workflow core.
type User struct {
	ID        string
	Username  string
	Email     string
	FirstName string
	LastName  string
	CreatedAt time.Time
}

// DisplayName returns the full name when known, otherwise the username.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}
