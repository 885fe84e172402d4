package services

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/proxpanel/license-server/internal/database"
	"github.com/proxpanel/license-server/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PluginSyncService pulls the upstream plugin catalog and upserts local
// plugin records. The catalog is supplementary metadata for dashboard
// search; license validation never depends on it.
type PluginSyncService struct {
	db         *gorm.DB
	cache      *database.Cache
	url        string
	interval   time.Duration
	httpClient *http.Client
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

type catalogEntry struct {
	PluginID string `json:"plugin_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Health   string `json:"health"`
	Enabled  bool   `json:"enabled"`
	Running  bool   `json:"running"`
}

// NewPluginSyncService creates the catalog sync service. An empty url or a
// non-positive interval disables it.
func NewPluginSyncService(db *gorm.DB, cache *database.Cache, url string, interval time.Duration) *PluginSyncService {
	return &PluginSyncService{
		db:       db,
		cache:    cache,
		url:      url,
		interval: interval,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		stopChan: make(chan struct{}),
	}
}

// Start begins periodic catalog synchronization
func (s *PluginSyncService) Start() {
	if s.url == "" || s.interval <= 0 {
		log.Println("PluginSyncService disabled (no catalog URL configured)")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Println("PluginSyncService started")

		if err := s.SyncOnce(); err != nil {
			log.Printf("PluginSync: initial sync failed: %v", err)
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.SyncOnce(); err != nil {
					log.Printf("PluginSync: sync failed: %v", err)
				}
			case <-s.stopChan:
				log.Println("PluginSyncService stopped")
				return
			}
		}
	}()
}

// Stop stops the sync service
func (s *PluginSyncService) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// SyncOnce pulls the catalog and upserts every entry
func (s *PluginSyncService) SyncOnce() error {
	resp, err := s.httpClient.Get(s.url)
	if err != nil {
		return fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch catalog: upstream returned %d", resp.StatusCode)
	}

	var entries []catalogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return fmt.Errorf("decode catalog: %w", err)
	}

	now := time.Now()
	for _, entry := range entries {
		if entry.PluginID == "" {
			continue
		}
		plugin := models.Plugin{
			PluginID:     entry.PluginID,
			Name:         entry.Name,
			Category:     entry.Category,
			Health:       entry.Health,
			Enabled:      entry.Enabled,
			Running:      entry.Running,
			LastSyncedAt: &now,
		}
		if err := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "plugin_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "category", "health", "enabled", "running", "last_synced_at", "updated_at"}),
		}).Create(&plugin).Error; err != nil {
			return fmt.Errorf("upsert plugin %s: %w", entry.PluginID, err)
		}
	}

	// Refresh the catalog cache; a cache failure is not a sync failure
	var plugins []models.Plugin
	if err := s.db.Order("plugin_id").Find(&plugins).Error; err == nil {
		if err := s.cache.Set(database.CacheKeyPluginList, plugins, database.CacheTTLPlugins); err != nil && err != database.ErrCacheDisabled {
			log.Printf("PluginSync: cache refresh failed: %v", err)
		}
	}

	log.Printf("PluginSync: synced %d plugins", len(entries))
	return nil
}
