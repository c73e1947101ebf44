package models

import "time"

// DeliveryRecord tracks how often and when a word was delivered to a subscriber
type DeliveryRecord struct {
	SubscriberID    int64     `json:"subscriber_id" db:"subscriber_id"`
	WordID          int64     `json:"word_id" db:"word_id"`
	DeliveryCount   int       `json:"delivery_count" db:"delivery_count"`
	LastDeliveredAt time.Time `json:"last_delivered_at" db:"last_delivered_at"`
}
