package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Item is a catalog entry identified by its external id.
// PublicationYear is nil until a processed payload reports it; it may be
// negative (ancient titles) or in the future (announced releases).
type Item struct {
	ItemID          int64  `json:"item_id"`
	ItemType        string `json:"item_type,omitempty"`
	PublicationYear *int   `json:"publication_year,omitempty"`
}

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the slice.
//   - error: non-nil if marshaling fails.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// CatalogItem is one normalized snapshot of an item, written by the processing stage.
// Snapshots are append-only; (item_id, payload_ref) identifies one.
type CatalogItem struct {
	ItemID        int64       `gorm:"primaryKey;autoIncrement:false" json:"item_id"`
	PayloadRef    string      `gorm:"type:text;primaryKey" json:"payload_ref"`
	ItemType      string      `gorm:"type:text;index" json:"item_type"`
	Name          string      `gorm:"type:text;not null" json:"name"`
	YearPublished *int        `gorm:"index" json:"year_published,omitempty"`
	Description   string      `gorm:"type:text" json:"description,omitempty"`
	Thumbnail     string      `gorm:"type:text" json:"thumbnail,omitempty"`
	Image         string      `gorm:"type:text" json:"image,omitempty"`
	MinPlayers    int         `json:"min_players"`
	MaxPlayers    int         `json:"max_players"`
	PlayingTime   int         `json:"playing_time"`
	MinPlayTime   int         `json:"min_play_time"`
	MaxPlayTime   int         `json:"max_play_time"`
	MinAge        int         `json:"min_age"`
	Categories    StringArray `gorm:"type:text" json:"categories"`
	Mechanics     StringArray `gorm:"type:text" json:"mechanics"`
	Families      StringArray `gorm:"type:text" json:"families"`
	Designers     StringArray `gorm:"type:text" json:"designers"`
	Artists       StringArray `gorm:"type:text" json:"artists"`
	Publishers    StringArray `gorm:"type:text" json:"publishers"`
	UsersRated    int         `json:"users_rated"`
	Average       float64     `json:"average"`
	BayesAverage  float64     `json:"bayes_average"`
	AverageWeight float64     `json:"average_weight"`
	Owned         int         `json:"owned"`
	FetchedAt     time.Time   `json:"fetched_at"`
	ProcessedAt   time.Time   `gorm:"index" json:"processed_at"`
}

// TableName returns the database table name for CatalogItem.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (CatalogItem) TableName() string {
	return "catalog_items"
}

// RawPayload stores a fetched payload when the database backs payload storage.
type RawPayload struct {
	Ref       string    `gorm:"type:text;primaryKey" json:"ref"`
	ItemID    int64     `gorm:"index" json:"item_id"`
	Body      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for RawPayload.
func (RawPayload) TableName() string {
	return "raw_payloads"
}
