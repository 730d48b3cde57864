package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkItem is the queue payload: identifiers only, the worker re-reads the record.
type WorkItem struct {
	RequestID   string         `json:"request_id"`
	Destination DestinationKey `json:"destination"`
}

func (w WorkItem) Encode() ([]byte, error) { return json.Marshal(w) }

func DecodeWorkItem(body []byte) (WorkItem, error) {
	var w WorkItem
	if err := json.Unmarshal(body, &w); err != nil {
		return WorkItem{}, fmt.Errorf("decode work item: %w", err)
	}
	if w.RequestID == "" || w.Destination == "" {
		return WorkItem{}, fmt.Errorf("decode work item: missing request_id or destination")
	}
	return w, nil
}

// PublishBudget is the longest publish attempt that still leaves a fifth of
// the visibility window for the store writes, so a slow attempt settles before
// the queue can hand the item to another worker.
func PublishBudget(visibility time.Duration) time.Duration {
	return visibility - visibility/5
}

// Delivery is one received message. Handle is backend specific and only
// meaningful to the queue that produced it.
type Delivery struct {
	ID            string
	Item          WorkItem
	DeliveryCount int
	Handle        interface{}
}

// DeadLetter is a message the queue gave up on after its own max receive count.
type DeadLetter struct {
	ID            uint      `json:"id"             gorm:"primaryKey;autoIncrement"`
	MessageID     string    `json:"message_id"     gorm:"size:128;index"`
	Backend       string    `json:"backend"        gorm:"size:32"`
	RequestID     string    `json:"request_id"     gorm:"size:64;index"`
	Destination   string    `json:"destination"    gorm:"size:128"`
	Body          string    `json:"body"           gorm:"type:text"`
	DeliveryCount int       `json:"delivery_count"`
	Reason        string    `json:"reason"         gorm:"type:text"`
	ArchivedAt    time.Time `json:"archived_at"    gorm:"autoCreateTime;index"`
}

func (DeadLetter) TableName() string { return "dead_letters" }
