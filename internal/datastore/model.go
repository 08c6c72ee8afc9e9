package datastore

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/tphakala/spotit-go/internal/errors"
)

// Item statuses
const (
	StatusPending  = "pending"
	StatusEnriched = "enriched"
	StatusFailed   = "failed"
)

// BBox is a pixel rectangle stored inline with its item
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// Tags is a string list stored as a JSON array
type Tags []string

// Value implements driver.Valuer
func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(t))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (t *Tags) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*t = Tags{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return errors.Newf("unsupported tags column type %T", value).
			Category(errors.CategoryDatabase).
			Build()
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	if list == nil {
		list = []string{}
	}
	*t = list
	return nil
}

// Item is a captured detection and its enrichment
type Item struct {
	ID          string  `gorm:"primaryKey;size:36" json:"id"`
	DetectionID string  `gorm:"index" json:"detection_id"`
	ClassID     int     `json:"class_id"`
	ClassName   string  `gorm:"index" json:"class_name"`
	Confidence  float64 `json:"confidence"`
	BBox        BBox    `gorm:"embedded;embeddedPrefix:bbox_" json:"bbox"`
	Image       []byte  `json:"-"`
	Status      string  `gorm:"index;size:16" json:"status"`

	Name         string  `json:"name,omitempty"`
	Category     string  `json:"category,omitempty"`
	Subcategory  string  `json:"subcategory,omitempty"`
	Brand        *string `json:"brand,omitempty"`
	Color        string  `json:"color,omitempty"`
	Material     string  `json:"material,omitempty"`
	SizeEstimate string  `json:"size_estimate,omitempty"`
	Description  string  `json:"description,omitempty"`
	Tags         Tags    `gorm:"type:text" json:"tags"`
	Error        string  `json:"error,omitempty"`

	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	EnrichedAt *time.Time `json:"enriched_at,omitempty"`
}

// Scan records one published detection batch
type Scan struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Version     uint64    `gorm:"index" json:"version"`
	FrameSeq    uint64    `json:"frame_seq"`
	Source      string    `json:"source"`
	Detections  int       `json:"detections"`
	InferenceMs int64     `json:"inference_ms"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}
