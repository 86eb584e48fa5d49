package core

import "time"

// Event is one occurrence reported by a sensor. Events are immutable once
// stored: the pipeline never updates or deletes them.
type Event struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	Message    string    `json:"message"`
	IPAddress  string    `json:"ip_address,omitempty"`
	Username   string    `json:"username,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewEvent is the insert-side shape of an Event. ID and ReceivedAt are
// assigned by the store.
type NewEvent struct {
	Source    string `json:"source"`
	Message   string `json:"message"`
	IPAddress string `json:"ip_address,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Alert is a detection record referencing exactly one Event.
type Alert struct {
	ID        int64     `json:"id"`
	LogID     int64     `json:"log_id"`
	RuleName  string    `json:"rule_name"`
	Message   string    `json:"message"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// NewAlert is the insert-side shape of an Alert.
type NewAlert struct {
	LogID    int64
	RuleName string
	Message  string
	Priority int
}

// Rule is a static keyword signature. Rules are evaluated in list order and
// the first case-insensitive substring match wins.
type Rule struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	Keyword  string `json:"keyword" yaml:"keyword" validate:"required"`
	Message  string `json:"message" yaml:"message"`
	Priority int    `json:"priority" yaml:"priority" validate:"gte=0,lte=10"`
}

// Rules is the on-disk container for a rule list.
type Rules struct {
	Rules []Rule `json:"rules" yaml:"rules" validate:"dive"`
}
