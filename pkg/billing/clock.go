package billing

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time. Injected so tests can pin it.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock returns a Clock backed by time.Now in UTC.
func SystemClock() Clock {
	return ClockFunc(func() time.Time { return time.Now().UTC() })
}

// IDGenerator supplies unique identifiers for new rows.
type IDGenerator interface {
	NewID() uuid.UUID
}

// IDGeneratorFunc adapts a function to the IDGenerator interface.
type IDGeneratorFunc func() uuid.UUID

func (f IDGeneratorFunc) NewID() uuid.UUID {
	return f()
}

// UUIDGenerator returns an IDGenerator backed by random UUIDs.
func UUIDGenerator() IDGenerator {
	return IDGeneratorFunc(uuid.New)
}
