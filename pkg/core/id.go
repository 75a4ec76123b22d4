package core

import "github.com/google/uuid"

// NewID returns a new random identifier for posts, comments and users.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id is a well-formed identifier in canonical form.
// Braced, URN and uppercase variants are rejected so that one entity can never
// be addressed by two different strings.
func ValidID(id string) bool {
	if len(id) != 36 {
		return false
	}
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}

// FilterValidIDs drops malformed ids and duplicates, preserving first-seen order.
func FilterValidIDs(ids []string) (valid []string, rejected int) {
	seen := make(map[string]struct{}, len(ids))
	valid = make([]string, 0, len(ids))
	for _, id := range ids {
		if !ValidID(id) {
			rejected++
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		valid = append(valid, id)
	}
	return valid, rejected
}
