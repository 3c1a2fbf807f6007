package domain

import "time"

type WorkStatus string

const (
	WorkScanning  WorkStatus = "scanning"
	WorkSafe      WorkStatus = "safe"
	WorkInfringed WorkStatus = "infringed"
)

type MediaKind string

const (
	KindIllustration MediaKind = "illustration"
	KindMusic        MediaKind = "music"
	KindVideo        MediaKind = "video"
)

type InfringementStatus string

const (
	InfringementPending       InfringementStatus = "pending"
	InfringementSent          InfringementStatus = "sent"
	InfringementResolved      InfringementStatus = "resolved"
	InfringementFalsePositive InfringementStatus = "false_positive"
)

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Plan      Plan      `json:"plan"`
	CreatedAt time.Time `json:"createdAt"`
}

// Work is one registered creative asset under monitoring.
type Work struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	Title             string     `json:"title"`
	Kind              MediaKind  `json:"kind"`
	FileKey           string     `json:"-"`
	ThumbKey          string     `json:"-"`
	FileHash          string     `json:"fileHash,omitempty"`
	Whitelist         []string   `json:"whitelist,omitempty"`
	AutoMonitor       bool       `json:"autoMonitor"`
	Status            WorkStatus `json:"status"`
	ScanError         string     `json:"scanError,omitempty"`
	InfringementCount int        `json:"infringementCount"`
	CreatedAt         time.Time  `json:"createdAt"`
	LastScannedAt     *time.Time `json:"lastScannedAt,omitempty"`
}

// Infringement is one detected instance of unauthorized use of a work.
type Infringement struct {
	ID         string             `json:"id"`
	WorkID     string             `json:"workId"`
	SiteURL    string             `json:"siteUrl"`
	SiteName   string             `json:"siteName"`
	Similarity float64            `json:"similarity"`
	Status     InfringementStatus `json:"status"`
	DetectedAt time.Time          `json:"detectedAt"`
	ResolvedAt *time.Time         `json:"resolvedAt,omitempty"`
}

// Match is one candidate returned by the external similarity search.
type Match struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Domain     string  `json:"domain"`
	Suspicious bool    `json:"suspicious"`
	Similarity float64 `json:"similarity"`
}

// WorkStats counts works by scan status plus the auto-monitored total.
type WorkStats struct {
	Monitoring int `json:"monitoring"`
	Infringed  int `json:"infringed"`
	Safe       int `json:"safe"`
	Scanning   int `json:"scanning"`
}

// InfringementStats counts infringements by resolution status.
type InfringementStats struct {
	Pending       int `json:"pending"`
	Sent          int `json:"sent"`
	Resolved      int `json:"resolved"`
	FalsePositive int `json:"falsePositive"`
	Total         int `json:"total"`
}

// Stats is the derived snapshot consumed by every view. It is recomputed
// from the live collections on each request, never cached.
type Stats struct {
	Works         WorkStats         `json:"works"`
	Infringements InfringementStats `json:"infringements"`
}

// TakedownNotice is a generated removal request for one infringement.
type TakedownNotice struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
