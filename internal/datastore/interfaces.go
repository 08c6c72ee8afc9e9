// Package datastore persists captured items and detection scans with GORM.
package datastore

import (
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/spotit-go/internal/classifier"
	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/logger"
)

// Interface is the storage used by the capture flow and the API
type Interface interface {
	SaveItem(item *Item) error
	SaveScan(scan *Scan) error
	ApplyEnrichment(itemID string, result classifier.Enrichment) error
	MarkFailed(itemID string, fallback classifier.Enrichment, cause error) error
	GetItem(id string) (*Item, error)
	ListItems(status string, limit int) ([]Item, error)
	Close() error
}

// DataStore implements Interface on a GORM connection
type DataStore struct {
	DB *gorm.DB
}

var _ Interface = (*DataStore)(nil)

// SaveItem inserts a new item. Items without a status are stored as pending.
func (ds *DataStore) SaveItem(item *Item) error {
	if item.ID == "" {
		return errors.Newf("item id is required").Category(errors.CategoryValidation).Build()
	}
	if item.Status == "" {
		item.Status = StatusPending
	}
	if item.Tags == nil {
		item.Tags = Tags{}
	}
	if err := ds.DB.Create(item).Error; err != nil {
		return dbError(err, "save_item").Context("item_id", item.ID).Build()
	}
	return nil
}

// SaveScan inserts a scan record
func (ds *DataStore) SaveScan(scan *Scan) error {
	if err := ds.DB.Create(scan).Error; err != nil {
		return dbError(err, "save_scan").Context("version", scan.Version).Build()
	}
	return nil
}

// ApplyEnrichment stores a classifier result on the item and marks it enriched
func (ds *DataStore) ApplyEnrichment(itemID string, result classifier.Enrichment) error {
	now := time.Now()
	return ds.updateItem(itemID, "apply_enrichment", enrichmentColumns(StatusEnriched, result, "", &now))
}

// MarkFailed stores the fallback result on the item and marks it failed
func (ds *DataStore) MarkFailed(itemID string, fallback classifier.Enrichment, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return ds.updateItem(itemID, "mark_failed", enrichmentColumns(StatusFailed, fallback, msg, nil))
}

func enrichmentColumns(status string, r classifier.Enrichment, errMsg string, enrichedAt *time.Time) map[string]any {
	tags := Tags(r.Tags)
	if tags == nil {
		tags = Tags{}
	}
	return map[string]any{
		"status":        status,
		"name":          r.Name,
		"category":      r.Category,
		"subcategory":   r.Subcategory,
		"brand":         r.Brand,
		"color":         r.Color,
		"material":      r.Material,
		"size_estimate": r.SizeEstimate,
		"description":   r.Description,
		"tags":          tags,
		"error":         errMsg,
		"enriched_at":   enrichedAt,
	}
}

func (ds *DataStore) updateItem(itemID, operation string, columns map[string]any) error {
	start := time.Now()
	res := ds.DB.Model(&Item{}).Where("id = ?", itemID).Updates(columns)
	if res.Error != nil {
		return dbError(res.Error, operation).
			Context("item_id", itemID).
			Timing(operation, time.Since(start)).
			Build()
	}
	if res.RowsAffected == 0 {
		return errors.Newf("item %s not found", itemID).
			Category(errors.CategoryNotFound).
			Context("operation", operation).
			Build()
	}
	GetLogger().Debug("item updated",
		logger.String("item_id", itemID),
		logger.String("status", columns["status"].(string)))
	return nil
}

// GetItem returns an item by id
func (ds *DataStore) GetItem(id string) (*Item, error) {
	var item Item
	if err := ds.DB.Where("id = ?", id).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("item %s not found", id).
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, dbError(err, "get_item").Context("item_id", id).Build()
	}
	return &item, nil
}

// ListItems returns items newest first. An empty status matches all items and
// limit <= 0 returns everything.
func (ds *DataStore) ListItems(status string, limit int) ([]Item, error) {
	query := ds.DB.Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var items []Item
	if err := query.Find(&items).Error; err != nil {
		return nil, dbError(err, "list_items").Context("status", status).Build()
	}
	return items, nil
}

// Close closes the underlying connection
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close").Build()
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close").Build()
	}
	return nil
}

func dbError(err error, operation string) *errors.ErrorBuilder {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Context("error_kind", categorizeError(err))
}
