package domain

import "time"

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	ID       string
	OrderID  string
	Type     string
	Version  int64
	Reason   string
	// Changes: JSON Patch изменений, если событие их несёт.
	Changes  []byte
	Occurred time.Time
}
