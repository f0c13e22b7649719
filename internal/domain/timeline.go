package domain

import "time"

// TimelineEvent описывает событие в жизненном цикле заказа. События платежа
// привязываются к заказу, которому платёж принадлежит.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
