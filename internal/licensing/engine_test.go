package licensing

import (
	"sync"
	"testing"
	"time"

	"github.com/proxpanel/license-server/internal/models"
	"github.com/proxpanel/license-server/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	e := NewEngine(db)
	e.now = func() time.Time { return baseTime }
	return e, db
}

func issueTestLicense(t *testing.T, e *Engine, licenseType models.LicenseType, maxActivations int) *models.License {
	t.Helper()
	lic, err := e.Issue(IssueRequest{
		PluginID:       "backup-manager",
		CustomerEmail:  "alice@example.com",
		CustomerName:   "Alice",
		LicenseType:    licenseType,
		MaxActivations: maxActivations,
	})
	require.NoError(t, err)
	return lic
}

// activeActivations returns the persisted count of active activations,
// which must always equal the license's cached activation_count
func activeActivations(t *testing.T, db *gorm.DB, licenseID uint) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.Activation{}).
		Where("license_id = ? AND status = ?", licenseID, models.ActivationStatusActive).
		Count(&count).Error)
	return count
}

func assertCountInvariant(t *testing.T, db *gorm.DB, licenseID string) {
	t.Helper()
	var lic models.License
	require.NoError(t, db.Where("license_id = ?", licenseID).First(&lic).Error)
	assert.EqualValues(t, lic.ActivationCount, activeActivations(t, db, lic.ID))
}

func TestValidateRejectsMissingFields(t *testing.T) {
	e, _ := newTestEngine(t)

	for _, req := range []ValidateRequest{
		{},
		{LicenseKey: "CB-AAAA-BBBB-CCCC-DDDD-EEEE"},
		{PluginID: "backup-manager"},
	} {
		verdict, err := e.Validate(req)
		assert.ErrorIs(t, err, ErrMissingField)
		assert.Nil(t, verdict)
	}
}

func TestValidateUnknownKey(t *testing.T) {
	e, _ := newTestEngine(t)

	verdict, err := e.Validate(ValidateRequest{
		LicenseKey: "CB-AAAA-BBBB-CCCC-DDDD-EEEE",
		PluginID:   "backup-manager",
	})
	require.NoError(t, err)
	assert.False(t, verdict.Valid)
	assert.Equal(t, "license not found", verdict.Reason)
}

func TestValidateWrongPluginLooksLikeNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	lic := issueTestLicense(t, e, models.LicenseType1Year, 1)

	verdict, err := e.Validate(ValidateRequest{
		LicenseKey: lic.LicenseKey,
		PluginID:   "some-other-plugin",
	})
	require.NoError(t, err)
	assert.False(t, verdict.Valid)
	assert.Equal(t, "license not found", verdict.Reason)
}

func TestValidateStatusOnly(t *testing.T) {
	e, db := newTestEngine(t)
	lic := issueTestLicense(t, e, models.LicenseType1Year, 3)

	verdict, err := e.Validate(ValidateRequest{
		LicenseKey: lic.LicenseKey,
		PluginID:   lic.PluginID,
	})
	require.NoError(t, err)
	assert.True(t, verdict.Valid)
	assert.Equal(t, 365, verdict.DaysRemaining)
	for _, threshold := range WarningThresholds {
		assert.False(t, verdict.Warnings[threshold], "threshold %d", threshold)
	}

	// Status-only check consumes no activation slot
	assert.EqualValues(t, 0, activeActivations(t, db, lic.ID))
	assertCountInvariant(t, db, lic.LicenseID)
}

func TestValidateLazyExpiryTransition(t *testing.T) {
	e, db := newTestEngine(t)
	lic := issueTestLicense(t, e, models.LicenseType1Year, 1)

	e.now = func() time.Time { return baseTime.AddDate(0, 0, 366) }

	verdict, err := e.Validate(ValidateRequest{LicenseKey: lic.LicenseKey, PluginID: lic.PluginID})
	require.NoError(t, err)
	assert.False(t, verdict.Valid)
	assert.Equal(t, "license is expired", verdict.Reason)

	// The transition is persisted on the first post-expiry call
	var stored models.License
	require.NoError(t, db.Where("license_id = ?", lic.LicenseID).First(&stored).Error)
	assert.Equal(t, models.LicenseStatusExpired, stored.Status)

	// Terminal: repeated calls keep returning the same negative verdict
	for i := 0; i < 3; i++ {
		verdict, err = e.Validate(ValidateRequest{LicenseKey: lic.LicenseKey, PluginID: lic.PluginID})
		require.NoError(t, err)
		assert.False(t, verdict.Valid)
		assert.Equal(t, "license is expired", verdict.Reason)
	}
}

func TestValidatePerpetualNeverExpires(t *testing.T) {
	e, _ := newTestEngine(t)
	lic := issueTestLicense(t, e, models.LicenseTypePerpetual, 1)

	e.now = func() time.Time { return baseTime.AddDate(10, 0, 0) }

	verdict, err := e.Validate(ValidateRequest{LicenseKey: lic.LicenseKey, PluginID: lic.PluginID})
	require.NoError(t, err)
	assert.True(t, verdict.Valid)
	for _, threshold := range WarningThresholds {
		assert.False(t, verdict.Warnings[threshold], "threshold %d", threshold)
	}
}

func TestActivationLifecycle(t *testing.T) {
	e, db := newTestEngine(t)
	lic := issueTestLicense(t, e, models.LicenseType1Year, 1)

	// Machine A takes the only slot
	verdict, err := e.Validate(ValidateRequest{
		LicenseKey: lic.LicenseKey, PluginID: lic.PluginID, MachineID: "machine-a",
	})
	require.NoError(t, err)
	assert.True(t, verdict.Valid)
	assertCountInvariant(t, db, lic.LicenseID)
	assert.EqualValues(t, 1, activeActivations(t, db, lic.ID))

	// Machine B is refused
	verdict, err = e.Validate(ValidateRequest{
		LicenseKey: lic.LicenseKey, PluginID: lic.PluginID, MachineID: "machine-b",
	})
	require.NoError(t, err)
	assert.False(t, verdict.Valid)
	assert.Equal(t, "maximum activations reached", verdict.Reason)

	// Machine A revalidates: matched activation, no new slot, last_seen refreshed
	later := baseTime.Add(2 * time.Hour)
	e.now = func() time.Time { return later }

	verdict, err = e.Validate(ValidateRequest{
		LicenseKey: lic.LicenseKey, PluginID: lic.PluginID, MachineID: "machine-a",
	})
	require.NoError(t, err)
	assert.True(t, verdict.Valid)
	assert.EqualValues(t, 1, activeActivations(t, db, lic.ID))
	assertCountInvariant(t, db, lic.LicenseID)

	var act models.Activation
	require.NoError(t, db.Where("license_id = ? AND machine_id = ?", lic.ID, "machine-a").First(&act).Error)
	assert.WithinDuration(t, later, act.LastSeenAt, time.Second)
}

func TestActivationRecordsDiagnostics(t *testing.T) {
	e, db := newTestEngine(t)
	lic := issueTestLicense(t, e, models.LicenseType1Year, 2)

	_, err := e.Validate(ValidateRequest{
		LicenseKey: lic.LicenseKey,
		PluginID:   lic.PluginID,
		MachineID:  "machine-a",
		IPAddress:  "203.0.113.7",
		UserAgent:  "backup-manager/2.4",
	})
	require.NoError(t, err)

	var act models.Activation
	require.NoError(t, db.Where("license_id = ? AND machine_id = ?", lic.ID, "machine-a").First(&act).Error)
	assert.Equal(t, "203.0.113.7", act.IPAddress)
	assert.Equal(t, "backup-manager/2.4", act.UserAgent)
	assert.NotEmpty(t, act.ActivationID)

	var stored models.License
	require.NoError(t, db.Where("license_id = ?", lic.LicenseID).First(&stored).Error)
	assert.Equal(t, "machine-a", stored.ActivatedBy)
	require.NotNil(t, stored.ActivatedAt)
}

func TestConcurrentAdmission(t *testing.T) {
	e, db := newTestEngine(t)
	lic := issueTestLicense(t, e, models.LicenseType1Year, 3)

	const machines = 8
	results := make([]*Verdict, machines)

	var wg sync.WaitGroup
	for i := 0; i < machines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			verdict, err := e.Validate(ValidateRequest{
				LicenseKey: lic.LicenseKey,
				PluginID:   lic.PluginID,
				MachineID:  string(rune('a'+i)) + "-machine",
			})
			assert.NoError(t, err)
			results[i] = verdict
		}(i)
	}
	wg.Wait()

	admitted, refused := 0, 0
	for _, verdict := range results {
		require.NotNil(t, verdict)
		if verdict.Valid {
			admitted++
		} else {
			refused++
			assert.Equal(t, "maximum activations reached", verdict.Reason)
		}
	}
	assert.Equal(t, 3, admitted)
	assert.Equal(t, machines-3, refused)
	assert.EqualValues(t, 3, activeActivations(t, db, lic.ID))
	assertCountInvariant(t, db, lic.LicenseID)
}

func heldLocks(e *Engine) int {
	e.locks.mu.Lock()
	defer e.locks.mu.Unlock()
	return len(e.locks.m)
}

func TestLockMapEvictsTerminalLicenses(t *testing.T) {
	e, _ := newTestEngine(t)
	lic := issueTestLicense(t, e, models.LicenseType1Year, 1)

	_, err := e.Validate(ValidateRequest{
		LicenseKey: lic.LicenseKey, PluginID: lic.PluginID, MachineID: "machine-a",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, heldLocks(e))

	// Revoked is terminal, so the per-license mutex is dropped
	require.NoError(t, e.Revoke(lic.LicenseID, "cleanup", "admin"))
	assert.Equal(t, 0, heldLocks(e))
}

func TestLockMapEvictsOnLazyExpiry(t *testing.T) {
	e, _ := newTestEngine(t)
	lic := issueTestLicense(t, e, models.LicenseType1Year, 1)

	_, err := e.Validate(ValidateRequest{
		LicenseKey: lic.LicenseKey, PluginID: lic.PluginID, MachineID: "machine-a",
	})
	require.NoError(t, err)
	require.Equal(t, 1, heldLocks(e))

	e.now = func() time.Time { return baseTime.AddDate(0, 0, 366) }
	verdict, err := e.Validate(ValidateRequest{LicenseKey: lic.LicenseKey, PluginID: lic.PluginID})
	require.NoError(t, err)
	require.False(t, verdict.Valid)
	assert.Equal(t, 0, heldLocks(e))
}

func TestWarningFlags(t *testing.T) {
	e, _ := newTestEngine(t)
	lic := issueTestLicense(t, e, models.LicenseType1Year, 1)

	// 25 days before expiry
	e.now = func() time.Time { return baseTime.AddDate(0, 0, 340) }

	verdict, err := e.Validate(ValidateRequest{LicenseKey: lic.LicenseKey, PluginID: lic.PluginID})
	require.NoError(t, err)
	assert.True(t, verdict.Valid)
	assert.Equal(t, 25, verdict.DaysRemaining)

	assert.True(t, verdict.Warnings[90])
	assert.True(t, verdict.Warnings[60])
	assert.True(t, verdict.Warnings[45])
	assert.True(t, verdict.Warnings[30])
	assert.False(t, verdict.Warnings[15])
	assert.False(t, verdict.Warnings[7])
}
