package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDaysRemaining(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      int
	}{
		{"exact days", now.AddDate(0, 0, 30), 30},
		{"partial days truncate", now.Add(30*24*time.Hour + 23*time.Hour), 30},
		{"under a day", now.Add(6 * time.Hour), 0},
		{"already expired clamps to zero", now.AddDate(0, 0, -5), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lic := License{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, lic.DaysRemaining(now))
		})
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.True(t, (&License{ExpiresAt: now.Add(-time.Second)}).IsExpired(now))
	assert.False(t, (&License{ExpiresAt: now.Add(time.Second)}).IsExpired(now))

	// Perpetual licenses carry the sentinel and never expire in practice
	perpetual := &License{LicenseType: LicenseTypePerpetual, ExpiresAt: PerpetualExpiresAt}
	assert.True(t, perpetual.IsPerpetual())
	assert.False(t, perpetual.IsExpired(now.AddDate(50, 0, 0)))
}
