package availability

import "time"

// Clock supplies "today" in the clinic's local date.
type Clock interface {
	Now() time.Time
	Today() Date
	Location() *time.Location
}

type SystemClock struct {
	loc *time.Location
}

func NewSystemClock(loc *time.Location) *SystemClock {
	if loc == nil {
		loc = time.UTC
	}
	return &SystemClock{loc: loc}
}

func (c *SystemClock) Now() time.Time           { return time.Now().In(c.loc) }
func (c *SystemClock) Today() Date              { return DateOf(c.Now()) }
func (c *SystemClock) Location() *time.Location { return c.loc }

// FixedClock always reports the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time           { return c.At }
func (c FixedClock) Today() Date              { return DateOf(c.At) }
func (c FixedClock) Location() *time.Location { return c.At.Location() }
