// Package models provides data model definitions for the budgeteer sync core.
package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// NewUUID generates a new UUID v4.
func NewUUID() UUID {
	return UUID(uuid.New().String())
}

// NewDeterministicUUID derives a stable UUID v5 from name. Callers use it
// where the same logical entity must map to the same id on every
// generation.
func NewDeterministicUUID(name string) UUID {
	return UUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String())
}

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Valid reports whether the value parses as a UUID.
func (u UUID) Valid() bool {
	_, err := uuid.Parse(string(u))
	return err == nil
}
