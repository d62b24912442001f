package scheduling

import "time"

// Clock abstracts "now" so lead-time rules can be exercised deterministically
// in tests. Every operation samples the clock exactly once, at the start of
// its critical section, and threads that instant through all comparisons.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Lead-time windows. Cancellation is deliberately allowed closer to the
// appointment than booking or rescheduling.
const (
	BookingLeadTime = 24 * time.Hour
	CancelLeadTime  = 12 * time.Hour
)
