package model

import (
	"encoding/json"
	"time"
)

// ChangeEvent records a certificate change. It is inserted in the same
// transaction as the certificate write that caused it and doubles as the
// pub/sub payload. Subscribers treat it as a hint and re-read authoritative
// state from the store before acting.
type ChangeEvent struct {
	ID        string          `json:"id" db:"id"`
	Domain    string          `json:"domain" db:"domain"`
	Type      string          `json:"certificate_type" db:"certificate_type"`
	Operation string          `json:"operation" db:"operation"`
	Payload   json.RawMessage `json:"payload,omitempty" db:"payload"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Change operation constants.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpRenewed = "renewed"
	OpExpired = "expired"
	OpDeleted = "deleted"
)
