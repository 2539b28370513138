package model

import (
	"encoding/json"
	"time"
)

// TenantID identifies a guild. It is supplied by the chat platform and is
// never allocated by this repository.
type TenantID int64

// Record is one row of the json_config_store table: a JSON document stored
// under a composite "{tenant}.{module}" key.
type Record struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
