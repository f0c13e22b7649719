package domain

import "time"

// Clock абстрагирует источник времени, чтобы логика истечения резервов
// и платежей была детерминированно тестируемой.
type Clock interface {
	// Now возвращает текущее время в UTC.
	Now() time.Time
}

type realClock struct{}

// NewRealClock возвращает Clock поверх системных часов.
func NewRealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock — управляемые часы для тестов.
type FixedClock struct {
	Current time.Time
}

// NewFixedClock создаёт часы, остановленные на заданном моменте.
func NewFixedClock(at time.Time) *FixedClock {
	return &FixedClock{Current: at.UTC()}
}

func (c *FixedClock) Now() time.Time {
	return c.Current
}

// Advance сдвигает часы вперёд на d.
func (c *FixedClock) Advance(d time.Duration) {
	c.Current = c.Current.Add(d)
}

var _ Clock = realClock{}
var _ Clock = (*FixedClock)(nil)
