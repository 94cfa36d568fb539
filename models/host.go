// Package models holds the interfaces through which the application reaches
// the host it runs on, so that tests can replace them.
package models

import "time"

// Environment is the interface to the process environment.
type Environment interface {
	Get(string) string
	Set(string, string) error
}

// TimeSource is the source of time information. Migrations and seeding
// timestamp rows with it.
type TimeSource interface {
	Now() time.Time
}

// TimeFunc adapts a function to the TimeSource interface.
type TimeFunc func() time.Time

// Now implements TimeSource.
func (f TimeFunc) Now() time.Time {
	return f()
}

// SystemTime is the TimeSource of the system clock.
var SystemTime TimeSource = TimeFunc(time.Now)
