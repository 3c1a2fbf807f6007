package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"loreanchor/pkg/domain"
)

const migrateLockID int64 = 48151623

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &WorkModel{}, &InfringementModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// Older deployments predate the FK; drop any infringement rows left
		// dangling before the cascade constraint starts enforcing it.
		if err := tx.Exec(`
			DELETE FROM infringement_models i
			WHERE NOT EXISTS (SELECT 1 FROM work_models w WHERE w.id = i.work_id);
		`).Error; err != nil {
			return fmt.Errorf("prune orphan infringements: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "plan"}),
	}).Create(&model).Error
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveWork stores or updates a work.
func (s *GormStore) SaveWork(w domain.Work) error {
	model := workToModel(w)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "kind", "file_key", "thumb_key", "file_hash", "whitelist",
			"auto_monitor", "status", "scan_error", "infringement_count",
			"last_scanned_at",
		}),
	}).Create(&model).Error
}

// GetWork retrieves a work.
func (s *GormStore) GetWork(id string) (domain.Work, bool, error) {
	var model WorkModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Work{}, false, nil
		}
		return domain.Work{}, false, err
	}
	return workFromModel(model), true, nil
}

// ListWorks returns all works, newest first.
func (s *GormStore) ListWorks() ([]domain.Work, error) {
	var models []WorkModel
	if err := s.db.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Work, 0, len(models))
	for _, m := range models {
		res = append(res, workFromModel(m))
	}
	return res, nil
}

// SetWorkStatus updates work status and scan error.
func (s *GormStore) SetWorkStatus(id string, status domain.WorkStatus, scanErr string) error {
	return s.db.Model(&WorkModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(status),
			"scan_error": scanErr,
		}).Error
}

// DeleteWork removes the work; infringements go with it via the FK cascade,
// and explicitly inside the same transaction for databases migrated before
// the constraint existed.
func (s *GormStore) DeleteWork(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&InfringementModel{}, "work_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&WorkModel{}, "id = ?", id).Error
	})
}

// CompleteScan applies one scan outcome atomically.
func (s *GormStore) CompleteScan(workID string, outcome ScanOutcome) (int, error) {
	added := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing []InfringementModel
		if err := tx.Select("site_url").Where("work_id = ?", workID).Find(&existing).Error; err != nil {
			return err
		}
		seen := make(map[string]bool, len(existing))
		for _, m := range existing {
			seen[m.SiteURL] = true
		}
		for _, cand := range outcome.Candidates {
			if seen[cand.SiteURL] {
				continue
			}
			seen[cand.SiteURL] = true
			model := infringementToModel(cand)
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
			added++
		}
		var total int64
		if err := tx.Model(&InfringementModel{}).Where("work_id = ?", workID).Count(&total).Error; err != nil {
			return err
		}
		return tx.Model(&WorkModel{}).
			Where("id = ?", workID).
			Updates(map[string]any{
				"status":             string(outcome.Status),
				"scan_error":         outcome.ScanError,
				"last_scanned_at":    outcome.ScannedAt.UTC(),
				"infringement_count": total,
			}).Error
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// GetInfringement retrieves one infringement.
func (s *GormStore) GetInfringement(id string) (domain.Infringement, bool, error) {
	var model InfringementModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Infringement{}, false, nil
		}
		return domain.Infringement{}, false, err
	}
	return infringementFromModel(model), true, nil
}

// ListInfringements returns infringements matching the filter, newest first.
func (s *GormStore) ListInfringements(filter InfringementFilter) ([]domain.Infringement, error) {
	tx := s.db.Order("detected_at DESC")
	if filter.WorkID != "" {
		tx = tx.Where("work_id = ?", filter.WorkID)
	}
	if filter.Status != "" {
		tx = tx.Where("status = ?", string(filter.Status))
	}
	var models []InfringementModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Infringement, 0, len(models))
	for _, m := range models {
		res = append(res, infringementFromModel(m))
	}
	return res, nil
}

// ListInfringementsByWork returns a work's infringements in detection order.
func (s *GormStore) ListInfringementsByWork(workID string) ([]domain.Infringement, error) {
	var models []InfringementModel
	if err := s.db.Where("work_id = ?", workID).Order("detected_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Infringement, 0, len(models))
	for _, m := range models {
		res = append(res, infringementFromModel(m))
	}
	return res, nil
}

// TransitionInfringement performs a guarded status move.
func (s *GormStore) TransitionInfringement(id string, from, to domain.InfringementStatus, resolvedAt *time.Time) (bool, error) {
	updates := map[string]any{"status": string(to)}
	if resolvedAt != nil {
		updates["resolved_at"] = resolvedAt.UTC()
	}
	tx := s.db.Model(&InfringementModel{}).
		Where("id = ? AND status = ?", id, string(from))
	if resolvedAt != nil {
		tx = tx.Where("resolved_at IS NULL")
	}
	res := tx.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Plan:      string(u.Plan),
		CreatedAt: u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:        m.ID,
		Email:     m.Email,
		Name:      m.Name,
		Plan:      domain.Plan(m.Plan),
		CreatedAt: m.CreatedAt,
	}
}

func workToModel(w domain.Work) WorkModel {
	whitelist, _ := json.Marshal(w.Whitelist)
	return WorkModel{
		ID:                w.ID,
		UserID:            w.UserID,
		Title:             w.Title,
		Kind:              string(w.Kind),
		FileKey:           w.FileKey,
		ThumbKey:          w.ThumbKey,
		FileHash:          w.FileHash,
		Whitelist:         whitelist,
		AutoMonitor:       w.AutoMonitor,
		Status:            string(w.Status),
		ScanError:         w.ScanError,
		InfringementCount: w.InfringementCount,
		CreatedAt:         w.CreatedAt,
		LastScannedAt:     w.LastScannedAt,
	}
}

func workFromModel(m WorkModel) domain.Work {
	var whitelist []string
	if len(m.Whitelist) > 0 {
		_ = json.Unmarshal(m.Whitelist, &whitelist)
	}
	return domain.Work{
		ID:                m.ID,
		UserID:            m.UserID,
		Title:             m.Title,
		Kind:              domain.MediaKind(m.Kind),
		FileKey:           m.FileKey,
		ThumbKey:          m.ThumbKey,
		FileHash:          m.FileHash,
		Whitelist:         whitelist,
		AutoMonitor:       m.AutoMonitor,
		Status:            domain.WorkStatus(m.Status),
		ScanError:         m.ScanError,
		InfringementCount: m.InfringementCount,
		CreatedAt:         m.CreatedAt,
		LastScannedAt:     m.LastScannedAt,
	}
}

func infringementToModel(i domain.Infringement) InfringementModel {
	return InfringementModel{
		ID:         i.ID,
		WorkID:     i.WorkID,
		SiteURL:    i.SiteURL,
		SiteName:   i.SiteName,
		Similarity: i.Similarity,
		Status:     string(i.Status),
		DetectedAt: i.DetectedAt,
		ResolvedAt: i.ResolvedAt,
	}
}

func infringementFromModel(m InfringementModel) domain.Infringement {
	return domain.Infringement{
		ID:         m.ID,
		WorkID:     m.WorkID,
		SiteURL:    m.SiteURL,
		SiteName:   m.SiteName,
		Similarity: m.Similarity,
		Status:     domain.InfringementStatus(m.Status),
		DetectedAt: m.DetectedAt,
		ResolvedAt: m.ResolvedAt,
	}
}
