package licensing

import (
	"errors"
	"fmt"

	"github.com/proxpanel/license-server/internal/models"
	"gorm.io/gorm"
)

// lookupRowID resolves a public license id to its row id so lifecycle
// actions can serialize on the same per-license mutex as admission
func (e *Engine) lookupRowID(licenseID string) (uint, error) {
	var lic models.License
	if err := e.db.Select("id").Where("license_id = ?", licenseID).First(&lic).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrLicenseNotFound
		}
		return 0, fmt.Errorf("license lookup: %w", err)
	}
	return lic.ID, nil
}

// Revoke terminates a license. The status change, the metadata stamp and the
// cascade to every active activation happen in one transaction: a concurrent
// reader sees either the fully-revoked state or the fully-prior state. The
// per-license mutex keeps it from interleaving with an in-flight admission.
// Revoking an already-revoked license re-applies the metadata (last write
// wins) and does not error. There is no un-revoke.
func (e *Engine) Revoke(licenseID, reason, actor string) error {
	rowID, err := e.lookupRowID(licenseID)
	if err != nil {
		return err
	}
	mu := e.locks.forLicense(rowID)
	mu.Lock()
	defer mu.Unlock()

	now := e.now()
	err = e.db.Transaction(func(tx *gorm.DB) error {
		var lic models.License
		if err := tx.Where("license_id = ?", licenseID).First(&lic).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLicenseNotFound
			}
			return fmt.Errorf("license lookup: %w", err)
		}

		lic.Status = models.LicenseStatusRevoked
		lic.ActivationCount = 0
		lic.Metadata.RevocationReason = reason
		lic.Metadata.RevokedAt = &now
		lic.Metadata.RevokedBy = actor
		if err := tx.Save(&lic).Error; err != nil {
			return fmt.Errorf("revoke license: %w", err)
		}

		if err := tx.Model(&models.Activation{}).
			Where("license_id = ? AND status = ?", lic.ID, models.ActivationStatusActive).
			Update("status", models.ActivationStatusRevoked).Error; err != nil {
			return fmt.Errorf("revoke activations: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.locks.release(rowID)
	return nil
}

// Suspend moves an active license to suspended. This is an explicit admin
// action; the engine defines no automatic recovery path back to active.
func (e *Engine) Suspend(licenseID, reason string) error {
	rowID, err := e.lookupRowID(licenseID)
	if err != nil {
		return err
	}
	mu := e.locks.forLicense(rowID)
	mu.Lock()
	defer mu.Unlock()

	now := e.now()
	err = e.db.Transaction(func(tx *gorm.DB) error {
		var lic models.License
		if err := tx.Where("license_id = ?", licenseID).First(&lic).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLicenseNotFound
			}
			return fmt.Errorf("license lookup: %w", err)
		}

		if lic.Status != models.LicenseStatusActive {
			return fmt.Errorf("only active licenses can be suspended (license is %s)", lic.Status)
		}

		lic.Status = models.LicenseStatusSuspended
		lic.Metadata.SuspensionReason = reason
		lic.Metadata.SuspendedAt = &now
		if err := tx.Save(&lic).Error; err != nil {
			return fmt.Errorf("suspend license: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.locks.release(rowID)
	return nil
}
