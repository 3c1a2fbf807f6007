package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID        string    `gorm:"primaryKey"`
	Email     string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	Plan      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type WorkModel struct {
	ID                string `gorm:"primaryKey"`
	UserID            string `gorm:"not null;index"`
	Title             string `gorm:"not null"`
	Kind              string `gorm:"not null"`
	FileKey           string
	ThumbKey          string
	FileHash          string
	Whitelist         datatypes.JSON `gorm:"type:jsonb"`
	AutoMonitor       bool           `gorm:"not null"`
	Status            string         `gorm:"not null;index"`
	ScanError         string
	InfringementCount int       `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null;index"`
	LastScannedAt     *time.Time
}

type InfringementModel struct {
	ID         string     `gorm:"primaryKey"`
	WorkID     string     `gorm:"not null;index"`
	Work       *WorkModel `gorm:"foreignKey:WorkID;constraint:OnDelete:CASCADE"`
	SiteURL    string     `gorm:"not null"`
	SiteName   string     `gorm:"not null"`
	Similarity float64    `gorm:"not null"`
	Status     string     `gorm:"not null;index"`
	DetectedAt time.Time  `gorm:"not null;index"`
	ResolvedAt *time.Time
}
