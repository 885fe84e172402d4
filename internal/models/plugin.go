package models

import "time"

// Plugin is a catalog record synced from the upstream platform.
// Supplementary metadata for dashboard search only; license validation
// is scoped by plugin_id string and never depends on this table.
type Plugin struct {
	ID           uint       `gorm:"primaryKey" json:"-"`
	PluginID     string     `gorm:"uniqueIndex;size:100;not null" json:"plugin_id"`
	Name         string     `gorm:"size:255" json:"name"`
	Category     string     `gorm:"size:100;index" json:"category"`
	Health       string     `gorm:"size:50" json:"health"`
	Enabled      bool       `gorm:"default:true" json:"enabled"`
	Running      bool       `gorm:"default:false" json:"running"`
	LastSyncedAt *time.Time `json:"last_synced_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Plugin) TableName() string {
	return "plugins"
}
