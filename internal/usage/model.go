package usage

import "time"

const (
	DefaultPlan  = "Free"
	DefaultLimit = 10

	// window is the quota period; a fresh window starts on the first
	// request after ResetsAt.
	window = 7 * 24 * time.Hour
)

// Usage is a caller's analysis quota for the current weekly window.
type Usage struct {
	Plan      string    `json:"plan"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resetsAt"`
}

func newUsage(limit int, now time.Time) Usage {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return Usage{Plan: DefaultPlan, Limit: limit, ResetsAt: now.Add(window)}
}

// rolled reports whether the window expired and, if so, restarts it.
func (u *Usage) rolled(now time.Time) bool {
	if now.Before(u.ResetsAt) {
		return false
	}
	u.Used = 0
	u.ResetsAt = now.Add(window)
	return true
}

func (u Usage) fits(n int) bool {
	return u.Used+n <= u.Limit
}

func (u Usage) withRemaining() Usage {
	u.Remaining = max(u.Limit-u.Used, 0)
	return u
}
