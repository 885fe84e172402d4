package licensing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/proxpanel/license-server/internal/keygen"
	"github.com/proxpanel/license-server/internal/models"
	"gorm.io/gorm"
)

// issueMaxAttempts bounds key regeneration when the store rejects a collision
const issueMaxAttempts = 5

// IssueRequest carries the parameters for issuing a new license
type IssueRequest struct {
	PluginID       string
	CustomerEmail  string
	CustomerName   string
	LicenseType    models.LicenseType
	MaxActivations int // defaults to 1
}

// Issue creates a new license. The generated key is probabilistically unique;
// the store's unique index is the final authority, so creation retries with
// fresh entropy when the insert collides.
func (e *Engine) Issue(req IssueRequest) (*models.License, error) {
	if req.PluginID == "" || req.CustomerEmail == "" {
		return nil, ErrMissingField
	}

	now := e.now()
	var expiresAt = models.PerpetualExpiresAt
	if req.LicenseType != models.LicenseTypePerpetual {
		days, ok := models.LicenseTermDays[req.LicenseType]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLicenseType, req.LicenseType)
		}
		expiresAt = now.AddDate(0, 0, days)
	}

	maxActivations := req.MaxActivations
	if maxActivations < 1 {
		maxActivations = 1
	}

	var lastErr error
	for attempt := 0; attempt < issueMaxAttempts; attempt++ {
		lic := &models.License{
			LicenseID:      uuid.NewString(),
			LicenseKey:     keygen.Generate(req.PluginID, req.CustomerEmail),
			PluginID:       req.PluginID,
			CustomerID:     keygen.DeriveCustomerID(req.CustomerEmail),
			CustomerEmail:  req.CustomerEmail,
			CustomerName:   req.CustomerName,
			LicenseType:    req.LicenseType,
			IssuedAt:       now,
			ExpiresAt:      expiresAt,
			MaxActivations: maxActivations,
			Status:         models.LicenseStatusActive,
		}
		err := e.db.Create(lic).Error
		if err == nil {
			return lic, nil
		}
		if !isDuplicateKey(err) {
			return nil, fmt.Errorf("create license: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("license key collision after %d attempts: %w", issueMaxAttempts, lastErr)
}

// isDuplicateKey matches unique-constraint violations across dialects
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
