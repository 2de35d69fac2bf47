package models

// Principal is the authenticated caller as resolved from the bearer token.
type Principal struct {
	UserID  string
	Email   string
	IsAdmin bool
	Status  string
}

func (p Principal) Active() bool {
	return p.Status == "active"
}

// SystemPrincipal is used by internal consumers (payment feed) that act on
// behalf of the platform rather than a user.
var SystemPrincipal = Principal{UserID: "system", IsAdmin: true, Status: "active"}
