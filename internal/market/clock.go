package market

import "time"

// Clock supplies the block timestamp every operation executes at.
type Clock interface {
	Now() time.Time
}

// SystemClock reads wall time in UTC, truncated to whole seconds like a block header.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC().Truncate(time.Second) }
