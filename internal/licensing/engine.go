package licensing

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/proxpanel/license-server/internal/models"
	"gorm.io/gorm"
)

// WarningThresholds are the advisory day boundaries reported on valid verdicts
var WarningThresholds = []int{90, 60, 45, 30, 15, 7}

var (
	// ErrLicenseNotFound means the license id targeted by an admin action does not exist
	ErrLicenseNotFound = errors.New("license not found")
	// ErrMissingField means a required request field was empty; rejected before any storage access
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidLicenseType means the requested term is not one of the known license types
	ErrInvalidLicenseType = errors.New("invalid license type")

	// errActivationLimit aborts the admission transaction when no slot is free.
	// Internal only; surfaces as a negative verdict, never as an error.
	errActivationLimit = errors.New("activation limit reached")
)

// statusChangedError aborts admission when the license left the active state
// between the pre-transaction gate and the admission transaction. Internal
// only; surfaces as a negative verdict carrying the current status.
type statusChangedError struct {
	status models.LicenseStatus
}

func (e statusChangedError) Error() string {
	return fmt.Sprintf("license is %s", e.status)
}

// ValidateRequest carries one validation call from a plugin installation
type ValidateRequest struct {
	LicenseKey string
	PluginID   string
	MachineID  string // optional; empty means status-only check
	IPAddress  string // diagnostic only
	UserAgent  string // diagnostic only
}

// Verdict is the structured result of a validation call. Negative outcomes
// (not found, expired, revoked, cap reached) are verdicts, not errors; only
// storage failures surface as errors.
type Verdict struct {
	Valid         bool            `json:"valid"`
	Reason        string          `json:"reason,omitempty"`
	DaysRemaining int             `json:"days_remaining"`
	Warnings      map[int]bool    `json:"warnings,omitempty"`
	License       *models.License `json:"-"`
}

// licenseLocks hands out one mutex per license row so concurrent admissions
// for the same license serialize while distinct licenses proceed independently
type licenseLocks struct {
	mu sync.Mutex
	m  map[uint]*sync.Mutex
}

func newLicenseLocks() *licenseLocks {
	return &licenseLocks{m: make(map[uint]*sync.Mutex)}
}

func (l *licenseLocks) forLicense(id uint) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if mu, ok := l.m[id]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	l.m[id] = mu
	return mu
}

// release drops the mutex for a license that reached a terminal status, so
// the map does not grow forever. A goroutine still holding the old mutex can
// at worst race another admission onto a fresh one; both then hit the
// in-transaction status re-check and abort, because terminal statuses never
// return to active.
func (l *licenseLocks) release(id uint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.m, id)
}

// Engine owns the license validation and activation state machine
type Engine struct {
	db    *gorm.DB
	locks *licenseLocks
	now   func() time.Time
}

// NewEngine creates a validation engine on top of the given store handle
func NewEngine(db *gorm.DB) *Engine {
	return &Engine{
		db:    db,
		locks: newLicenseLocks(),
		now:   time.Now,
	}
}

// Validate runs the decision procedure for one license check. Note that this
// is not side-effect-free: it persists the expired transition on the first
// post-expiry call, refreshes last_seen_at on a matched activation, and admits
// a new activation when a slot is free. Callers that need a read-only check
// should use models.License.IsExpired directly.
func (e *Engine) Validate(req ValidateRequest) (*Verdict, error) {
	if req.LicenseKey == "" || req.PluginID == "" {
		return nil, ErrMissingField
	}
	now := e.now()

	// Lookup is scoped to the plugin id: a correct key presented for the
	// wrong plugin is indistinguishable from not found.
	var lic models.License
	err := e.db.Where("license_key = ? AND plugin_id = ?", req.LicenseKey, req.PluginID).First(&lic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Verdict{Valid: false, Reason: "license not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("license lookup: %w", err)
	}

	// Expiry is discovered lazily: the first post-expiry validation call
	// persists the transition. The guarded update keeps it exactly-once
	// under concurrent callers.
	if lic.Status == models.LicenseStatusActive && lic.IsExpired(now) {
		if err := e.db.Model(&models.License{}).
			Where("id = ? AND status = ?", lic.ID, models.LicenseStatusActive).
			Update("status", models.LicenseStatusExpired).Error; err != nil {
			return nil, fmt.Errorf("expiry transition: %w", err)
		}
		lic.Status = models.LicenseStatusExpired
		e.locks.release(lic.ID)
		return e.invalid(&lic, "license is expired"), nil
	}

	if lic.Status != models.LicenseStatusActive {
		return e.invalid(&lic, fmt.Sprintf("license is %s", lic.Status)), nil
	}

	// Status-only check: no activation side effect
	if req.MachineID == "" {
		return e.valid(&lic, now), nil
	}

	verdict, err := e.admit(&lic, req, now)
	if err != nil {
		return nil, err
	}
	return verdict, nil
}

// admit refreshes the caller's existing activation or admits a new one.
// The count-then-insert sequence is a check-then-act race, so it runs under
// the per-license mutex with the compound write inside one transaction.
// The status read in Validate happens before the mutex is taken and may be
// stale by the time admission runs (a revoke can commit in between), so the
// transaction re-reads the row and aborts unless it is still active.
func (e *Engine) admit(lic *models.License, req ValidateRequest, now time.Time) (*Verdict, error) {
	mu := e.locks.forLicense(lic.ID)
	mu.Lock()
	defer mu.Unlock()

	var newCount int64 = -1
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var current models.License
		if err := tx.Where("id = ?", lic.ID).First(&current).Error; err != nil {
			return err
		}
		if current.Status != models.LicenseStatusActive {
			return statusChangedError{status: current.Status}
		}

		var act models.Activation
		err := tx.Where("license_id = ? AND machine_id = ? AND status = ?",
			lic.ID, req.MachineID, models.ActivationStatusActive).First(&act).Error
		if err == nil {
			// Known machine: refresh and allow, no slot consumed
			return tx.Model(&act).Update("last_seen_at", now).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var count int64
		if err := tx.Model(&models.Activation{}).
			Where("license_id = ? AND status = ?", lic.ID, models.ActivationStatusActive).
			Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(lic.MaxActivations) {
			return errActivationLimit
		}

		act = models.Activation{
			ActivationID: uuid.NewString(),
			LicenseID:    lic.ID,
			MachineID:    req.MachineID,
			IPAddress:    req.IPAddress,
			UserAgent:    req.UserAgent,
			ActivatedAt:  now,
			LastSeenAt:   now,
			Status:       models.ActivationStatusActive,
		}
		if err := tx.Create(&act).Error; err != nil {
			return err
		}

		newCount = count + 1
		return tx.Model(&models.License{}).Where("id = ?", lic.ID).
			Updates(map[string]interface{}{
				"activation_count": newCount,
				"activated_at":     now,
				"activated_by":     req.MachineID,
			}).Error
	})
	if errors.Is(err, errActivationLimit) {
		return e.invalid(lic, "maximum activations reached"), nil
	}
	var changed statusChangedError
	if errors.As(err, &changed) {
		lic.Status = changed.status
		return e.invalid(lic, changed.Error()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("activation admission: %w", err)
	}

	if newCount >= 0 {
		lic.ActivationCount = int(newCount)
		lic.ActivatedAt = &now
		lic.ActivatedBy = req.MachineID
	}
	return e.valid(lic, now), nil
}

func (e *Engine) invalid(lic *models.License, reason string) *Verdict {
	return &Verdict{Valid: false, Reason: reason, License: lic}
}

func (e *Engine) valid(lic *models.License, now time.Time) *Verdict {
	days := lic.DaysRemaining(now)
	warnings := make(map[int]bool, len(WarningThresholds))
	for _, t := range WarningThresholds {
		warnings[t] = days <= t
	}
	return &Verdict{
		Valid:         true,
		DaysRemaining: days,
		Warnings:      warnings,
		License:       lic,
	}
}
