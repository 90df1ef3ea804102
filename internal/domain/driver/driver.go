package driver

import "time"

// Driver is the read-only eligibility view the matcher consumes. Whether a
// driver is currently online lives in the presence store, not on this row;
// verification and Kin membership live in the relational store.
type Driver struct {
	ID         string
	IsVerified bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Eligible reports whether the driver may receive offers at all. Online-ness
// is checked separately against the presence store.
func (driver *Driver) Eligible() bool {
	return driver.IsVerified
}
