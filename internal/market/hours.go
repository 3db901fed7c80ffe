package market

import "time"

// Hours describes one trading session as offsets from local midnight.
// Weekends are always outside the session.
type Hours struct {
	Location *time.Location
	Open     time.Duration
	Close    time.Duration
}

// DefaultHours is a 09:30-16:00 UTC session, matching US equity hours
// without depending on zone data being present.
func DefaultHours() Hours {
	return Hours{
		Location: time.UTC,
		Open:     9*time.Hour + 30*time.Minute,
		Close:    16 * time.Hour,
	}
}

// InSession reports whether t falls inside the trading session.
func (h Hours) InSession(t time.Time) bool {
	local := t.In(h.loc())
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, h.loc())
	offset := local.Sub(midnight)
	return offset >= h.Open && offset < h.Close
}

// SameDay reports whether both instants fall on one session date.
func (h Hours) SameDay(a, b time.Time) bool {
	la, lb := a.In(h.loc()), b.In(h.loc())
	ya, ma, da := la.Date()
	yb, mb, db := lb.Date()
	return ya == yb && ma == mb && da == db
}

// SessionOpen returns the session open on t's date.
func (h Hours) SessionOpen(t time.Time) time.Time {
	local := t.In(h.loc())
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, h.loc())
	return midnight.Add(h.Open)
}

func (h Hours) loc() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}
