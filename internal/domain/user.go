package domain

// User is the principal issued by the identity provider. A nil *User means
// nobody is signed in.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SameUser reports whether a and b identify the same principal, treating two
// absent users as equal.
func SameUser(a, b *User) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}
