package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User is an account identified by email. ResetToken and ResetTokenExpiry are
// set together by the forgot-password flow and cleared together on consumption.
type User struct {
	gorm.Model
	Name             string     `gorm:"size:128"`
	Email            string     `gorm:"uniqueIndex;size:255"`
	PasswordHash     string     `gorm:"size:255"`
	ResetToken       *string    `gorm:"index;size:64"`
	ResetTokenExpiry *time.Time
	Resumes          []Resume `gorm:"constraint:OnDelete:CASCADE"`
}

// Resume is one resume document. Content holds the structured sections as
// JSONB (see internal/resume); IsPublic is the sole gate for anonymous reads.
// UserID is set at creation and never changes.
type Resume struct {
	gorm.Model
	Title    string         `gorm:"size:255"`
	Content  datatypes.JSON `gorm:"type:jsonb"`
	IsPublic bool           `gorm:"default:false;index"`
	UserID   uint           `gorm:"index"`
	User     User           `gorm:"constraint:OnDelete:CASCADE"`
}
