package clock

import "time"

// Fake is a settable clock, for tests.
type Fake struct {
	Current time.Time
}

func NewFake(t time.Time) *Fake {
	return &Fake{Current: t.UTC()}
}

func (f *Fake) Now() time.Time {
	return f.Current
}

func (f *Fake) Advance(d time.Duration) {
	f.Current = f.Current.Add(d)
}
