package util

import "time"

// Ptr returns a pointer to the given value.
// Handy for optional fields in update structs.
func Ptr[T any](v T) *T {
	return &v
}

// Deref returns *p, or def when p is nil
func Deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// TimePtrUTC returns a pointer to t in UTC, or nil for the zero time
func TimePtrUTC(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
