package models

// User is an identity issued by the identity provider. Anonymous users
// have no email and never own persisted day logs.
type User struct {
	UID       string `json:"uid"`
	Email     string `json:"email,omitempty"`
	Anonymous bool   `json:"anonymous"`
}

// CanPersist reports whether u may read and write day logs.
func (u *User) CanPersist() bool {
	return u != nil && !u.Anonymous && u.UID != ""
}

// DisplayName is the label shown in the dashboard header.
func (u *User) DisplayName() string {
	switch {
	case u == nil:
		return "N/A"
	case u.Email != "":
		return u.Email
	default:
		return "Guest"
	}
}
