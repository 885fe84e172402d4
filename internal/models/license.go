package models

import (
	"time"
)

// LicenseStatus represents the lifecycle status of a license
type LicenseStatus string

const (
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusExpired   LicenseStatus = "expired"
	LicenseStatusRevoked   LicenseStatus = "revoked"
	LicenseStatusSuspended LicenseStatus = "suspended"
)

// LicenseType represents the purchased license term
type LicenseType string

const (
	LicenseType1Year     LicenseType = "1-year"
	LicenseType3Year     LicenseType = "3-year"
	LicenseType5Year     LicenseType = "5-year"
	LicenseTypePerpetual LicenseType = "perpetual"
)

// PerpetualExpiresAt is the sentinel expiry date for perpetual licenses.
// Far enough in the future that the lazy expiry transition never fires.
var PerpetualExpiresAt = time.Date(2099, 12, 31, 23, 59, 59, 0, time.UTC)

// LicenseTermDays maps term types to their validity window in days
var LicenseTermDays = map[LicenseType]int{
	LicenseType1Year: 365,
	LicenseType3Year: 1095,
	LicenseType5Year: 1825,
}

// LicenseMetadata holds known administrative fields plus a residual map
// for forward-compatible extension
type LicenseMetadata struct {
	RevocationReason string            `json:"revocation_reason,omitempty"`
	RevokedAt        *time.Time        `json:"revoked_at,omitempty"`
	RevokedBy        string            `json:"revoked_by,omitempty"`
	SuspensionReason string            `json:"suspension_reason,omitempty"`
	SuspendedAt      *time.Time        `json:"suspended_at,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// License represents a plugin license issued to a customer
type License struct {
	ID         uint   `gorm:"primaryKey" json:"-"`
	LicenseID  string `gorm:"uniqueIndex;size:36;not null" json:"license_id"`
	LicenseKey string `gorm:"uniqueIndex;size:64;not null" json:"license_key"`

	// Binding
	PluginID      string `gorm:"size:100;index;not null" json:"plugin_id"`
	CustomerID    string `gorm:"size:32;index;not null" json:"customer_id"`
	CustomerEmail string `gorm:"size:255;not null" json:"customer_email"`
	CustomerName  string `gorm:"size:255" json:"customer_name"`

	// Terms
	LicenseType    LicenseType `gorm:"size:20;not null" json:"license_type"`
	IssuedAt       time.Time   `json:"issued_at"`
	ExpiresAt      time.Time   `gorm:"index" json:"expires_at"`
	MaxActivations int         `gorm:"default:1" json:"max_activations"`

	// Mutable state
	Status          LicenseStatus   `gorm:"size:20;default:'active';index" json:"status"`
	ActivationCount int             `gorm:"default:0" json:"activation_count"`
	ActivatedAt     *time.Time      `json:"activated_at"`
	ActivatedBy     string          `gorm:"size:100" json:"activated_by"`
	Metadata        LicenseMetadata `gorm:"serializer:json" json:"metadata"`

	Activations []Activation `gorm:"foreignKey:LicenseID;references:ID" json:"activations,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (License) TableName() string {
	return "licenses"
}

// IsPerpetual returns true if the license never expires
func (l *License) IsPerpetual() bool {
	return l.LicenseType == LicenseTypePerpetual
}

// IsExpired returns true if the validity window has passed at the given instant.
// Read-only; the persisted status transition happens in the validation engine.
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}

// DaysRemaining returns whole calendar days until expiry, truncated, never negative
func (l *License) DaysRemaining(now time.Time) int {
	if l.IsExpired(now) {
		return 0
	}
	return int(l.ExpiresAt.Sub(now).Hours() / 24)
}

// ActivationStatus represents the status of a machine activation
type ActivationStatus string

const (
	ActivationStatusActive   ActivationStatus = "active"
	ActivationStatusInactive ActivationStatus = "inactive"
	ActivationStatusRevoked  ActivationStatus = "revoked"
)

// Activation binds a license to one machine identity
type Activation struct {
	ID           uint             `gorm:"primaryKey" json:"-"`
	ActivationID string           `gorm:"uniqueIndex;size:36;not null" json:"activation_id"`
	LicenseID    uint             `gorm:"index:idx_activations_license_machine;not null" json:"-"`
	MachineID    string           `gorm:"index:idx_activations_license_machine;size:100;not null" json:"machine_id"`
	IPAddress    string           `gorm:"size:50" json:"ip_address"`
	UserAgent    string           `gorm:"size:255" json:"user_agent"`
	ActivatedAt  time.Time        `json:"activated_at"`
	LastSeenAt   time.Time        `json:"last_seen_at"`
	Status       ActivationStatus `gorm:"size:20;default:'active'" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Activation) TableName() string {
	return "activations"
}
