package services

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/proxpanel/license-server/internal/models"
	"gorm.io/gorm"
)

// ScanThresholds are the day boundaries the expiration scan buckets licenses into
var ScanThresholds = []int{90, 60, 45, 30, 15, 7, 3, 1}

// ExpiryEvent is emitted once per (license, threshold) match per run
type ExpiryEvent struct {
	License         models.License
	DaysUntilExpiry int
}

// Notifier consumes expiry events. Delivery (email, webhook, log) is the
// consumer's concern, as is de-duplication across repeated runs.
type Notifier interface {
	NotifyExpiry(event ExpiryEvent)
}

// LogNotifier is the default sink; it writes events to the process log
type LogNotifier struct{}

func (LogNotifier) NotifyExpiry(ev ExpiryEvent) {
	log.Printf("ExpiryScan: license %s (%s, %s) expires in %d days",
		ev.License.LicenseID, ev.License.PluginID, ev.License.CustomerEmail, ev.DaysUntilExpiry)
}

// ExpirationScanService sweeps for licenses crossing notification thresholds.
// Runs once per day at the configured trigger time (default 02:00). Purely
// observational: it never mutates license or activation state.
type ExpirationScanService struct {
	db         *gorm.DB
	notifier   Notifier
	sendHour   int
	sendMinute int
	stopChan   chan struct{}
	wg         sync.WaitGroup
	lastRunAt  time.Time
}

// NewExpirationScanService creates the scan service. sendTime is HH:MM.
func NewExpirationScanService(db *gorm.DB, notifier Notifier, sendTime string) *ExpirationScanService {
	hour, minute := parseSendTime(sendTime)
	return &ExpirationScanService{
		db:         db,
		notifier:   notifier,
		sendHour:   hour,
		sendMinute: minute,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the daily scan scheduler
func (s *ExpirationScanService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Println("ExpirationScanService started")

		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.checkAndRun()
			case <-s.stopChan:
				log.Println("ExpirationScanService stopped")
				return
			}
		}
	}()
}

// Stop stops the scan service
func (s *ExpirationScanService) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// parseSendTime parses HH:MM, defaulting to 02:00 on any malformed input
func parseSendTime(value string) (int, int) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 2, 0
	}

	var hour, minute int
	if _, err := fmt.Sscanf(parts[0], "%d", &hour); err != nil {
		return 2, 0
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &minute); err != nil {
		return 2, 0
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 2, 0
	}

	return hour, minute
}

// checkAndRun fires the scan once per day at the configured time
func (s *ExpirationScanService) checkAndRun() {
	now := time.Now()
	if now.Hour() != s.sendHour || now.Minute() != s.sendMinute {
		return
	}

	// Prevent double-firing within the same minute
	todayRun := time.Date(now.Year(), now.Month(), now.Day(), s.sendHour, s.sendMinute, 0, 0, now.Location())
	if !s.lastRunAt.IsZero() && s.lastRunAt.After(todayRun.Add(-1*time.Minute)) {
		return
	}
	s.lastRunAt = now

	log.Printf("ExpirationScanService: Running at %02d:%02d", s.sendHour, s.sendMinute)
	events, err := s.Scan(now)
	if err != nil {
		log.Printf("ExpiryScan: sweep failed: %v", err)
		return
	}
	for _, ev := range events {
		s.notifier.NotifyExpiry(ev)
	}
	log.Printf("ExpiryScan: emitted %d events", len(events))
}

// Scan returns one event per (license, threshold) pair where the license is
// active and its expiry falls within the calendar day exactly threshold days
// from now. Running it twice on the same day emits duplicates; de-dup is the
// consumer's responsibility.
func (s *ExpirationScanService) Scan(now time.Time) ([]ExpiryEvent, error) {
	var events []ExpiryEvent

	for _, threshold := range ScanThresholds {
		targetDate := now.AddDate(0, 0, threshold)
		startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, now.Location())
		endOfDay := startOfDay.Add(24 * time.Hour)

		var licenses []models.License
		if err := s.db.
			Where("expires_at >= ? AND expires_at < ? AND status = ?",
				startOfDay, endOfDay, models.LicenseStatusActive).
			Find(&licenses).Error; err != nil {
			return nil, fmt.Errorf("scan threshold %d: %w", threshold, err)
		}

		for _, lic := range licenses {
			events = append(events, ExpiryEvent{License: lic, DaysUntilExpiry: threshold})
		}
	}

	return events, nil
}
