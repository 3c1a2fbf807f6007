package store

import (
	"time"

	"loreanchor/pkg/domain"
)

// InfringementFilter narrows infringement listings. Zero values match all.
type InfringementFilter struct {
	WorkID string
	Status domain.InfringementStatus
}

// ScanOutcome is the result of one completed scan applied atomically to a
// work: its new status, the failure message if the scan degraded to safe,
// and the candidate infringements detected this round.
type ScanOutcome struct {
	Status     domain.WorkStatus
	ScanError  string
	ScannedAt  time.Time
	Candidates []domain.Infringement
}

// Store defines persistence operations for users, works, and infringements.
type Store interface {
	// users
	SaveUser(domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)

	// works
	SaveWork(domain.Work) error
	GetWork(id string) (domain.Work, bool, error)
	// ListWorks returns works newest first.
	ListWorks() ([]domain.Work, error)
	SetWorkStatus(id string, status domain.WorkStatus, scanErr string) error
	// DeleteWork removes the work and every infringement referencing it.
	DeleteWork(id string) error
	// CompleteScan applies a scan outcome in one transaction: candidates
	// whose site URL already exists for the work are skipped, new ones are
	// inserted, and status, scan error, last-scanned time and the cached
	// infringement count are updated together. Returns the number of
	// infringements actually added.
	CompleteScan(workID string, outcome ScanOutcome) (int, error)

	// infringements
	GetInfringement(id string) (domain.Infringement, bool, error)
	ListInfringements(filter InfringementFilter) ([]domain.Infringement, error)
	// ListInfringementsByWork returns a work's infringements in detection
	// order, oldest first.
	ListInfringementsByWork(workID string) ([]domain.Infringement, error)
	// TransitionInfringement moves an infringement from one status to
	// another, guarding against concurrent writers: it succeeds only if the
	// record still holds the expected current status. resolvedAt is set when
	// non-nil and the record has no resolution time yet; it is never
	// cleared.
	TransitionInfringement(id string, from, to domain.InfringementStatus, resolvedAt *time.Time) (bool, error)
}
