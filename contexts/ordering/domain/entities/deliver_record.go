package entities

import "time"

// DeliverRecord tracks the single delivery created for an order.
type DeliverRecord struct {
	DeliverRecordID string
	OrderID         string
	CreatedAt       time.Time
}
