package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"loreanchor/internal/util"
	"loreanchor/pkg/domain"
	"loreanchor/pkg/scan"
	"loreanchor/pkg/storage"
	"loreanchor/pkg/store"
)

// MaxUploadBytes is the hard cap on registered media files.
const MaxUploadBytes = 500 << 20

// Enqueuer hands scan jobs to the background worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, workID string) error
}

// Config holds the orchestrator's injected dependencies.
type Config struct {
	Store            store.Store
	Objects          storage.ObjectStore
	Scanner          scan.Client
	Queue            Enqueuer
	ScanTimeout      time.Duration
	DefaultWhitelist []string
	PresignExpiry    time.Duration
}

// App is the work/infringement lifecycle orchestrator. It owns every
// mutation of works and infringements; the two status state machines and
// the derived statistics stay consistent because all writes funnel through
// here.
type App struct {
	store            store.Store
	objects          storage.ObjectStore
	scanner          scan.Client
	queue            Enqueuer
	scanTimeout      time.Duration
	defaultWhitelist []string
	presignExpiry    time.Duration
	scans            singleflight.Group
	now              func() time.Time
}

// New wires the orchestrator.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.Scanner == nil {
		return nil, fmt.Errorf("scan client required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("scan queue required")
	}
	scanTimeout := cfg.ScanTimeout
	if scanTimeout <= 0 {
		scanTimeout = 2 * time.Minute
	}
	presignExpiry := cfg.PresignExpiry
	if presignExpiry <= 0 {
		presignExpiry = 15 * time.Minute
	}
	return &App{
		store:            cfg.Store,
		objects:          cfg.Objects,
		scanner:          cfg.Scanner,
		queue:            cfg.Queue,
		scanTimeout:      scanTimeout,
		defaultWhitelist: cfg.DefaultWhitelist,
		presignExpiry:    presignExpiry,
		now:              func() time.Time { return time.Now().UTC() },
	}, nil
}

// Login returns the account for the given email, creating it on first
// sight. Accounts are immutable after creation.
func (a *App) Login(email, name string, plan domain.Plan) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, fmt.Errorf("%w: valid email required", ErrValidation)
	}
	if user, ok, err := a.store.GetUserByEmail(email); err != nil {
		return domain.User{}, err
	} else if ok {
		return user, nil
	}
	if plan != domain.PlanPro {
		plan = domain.PlanFree
	}
	user := domain.User{
		ID:        util.NewID(),
		Email:     email,
		Name:      strings.TrimSpace(name),
		Plan:      plan,
		CreatedAt: a.now(),
	}
	if user.Name == "" {
		user.Name = email
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// GetUser returns a user by ID.
func (a *App) GetUser(id string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return user, nil
}

// RegisterWork validates and stores a new work, creates it in scanning
// status, and enqueues its first scan. Exactly one work is created; no
// infringements exist until the scan completes.
func (a *App) RegisterWork(owner domain.User, filename, title string, r io.Reader, size int64, autoMonitor bool, whitelist []string) (domain.Work, error) {
	if strings.TrimSpace(filename) == "" {
		return domain.Work{}, fmt.Errorf("%w: filename required", ErrValidation)
	}
	if size <= 0 {
		return domain.Work{}, fmt.Errorf("%w: empty file", ErrValidation)
	}
	if size > MaxUploadBytes {
		return domain.Work{}, fmt.Errorf("%w: file exceeds %d MiB limit", ErrValidation, MaxUploadBytes>>20)
	}
	kind, ok := kindForFilename(filename)
	if !ok {
		return domain.Work{}, fmt.Errorf("%w: unsupported file type %q", ErrValidation, filepath.Ext(filename))
	}
	if len(whitelist) == 0 {
		whitelist = a.defaultWhitelist
	}

	id := util.NewID()
	storageKey := buildStorageKey(id, filename)
	contentType := contentTypeForKind(kind, filename)

	hasher := sha256.New()
	if err := a.objects.Put(context.Background(), storageKey, io.TeeReader(r, hasher), size, contentType); err != nil {
		return domain.Work{}, fmt.Errorf("save file: %w", err)
	}

	// Illustrations are their own thumbnail; audio and video have none.
	thumbKey := ""
	if kind == domain.KindIllustration {
		thumbKey = storageKey
	}

	work := domain.Work{
		ID:          id,
		UserID:      owner.ID,
		Title:       titleFromName(filename, title),
		Kind:        kind,
		FileKey:     storageKey,
		ThumbKey:    thumbKey,
		FileHash:    hex.EncodeToString(hasher.Sum(nil)),
		Whitelist:   whitelist,
		AutoMonitor: autoMonitor,
		Status:      domain.WorkScanning,
		CreatedAt:   a.now(),
	}
	if err := a.store.SaveWork(work); err != nil {
		_ = a.objects.Delete(context.Background(), storageKey)
		return domain.Work{}, fmt.Errorf("save work: %w", err)
	}
	if err := a.queue.Enqueue(context.Background(), id); err != nil {
		// A work must never sit in scanning with no scan coming. Degrade
		// to safe and surface the failure on the record and in the log.
		scanErr := fmt.Sprintf("scan could not be started: %v", err)
		_ = a.store.SetWorkStatus(id, domain.WorkSafe, scanErr)
		slog.Error("scan enqueue failed", "workId", id, "err", err)
		work.Status = domain.WorkSafe
		work.ScanError = scanErr
	}
	return work, nil
}

// ListWorks returns all works, newest first.
func (a *App) ListWorks() ([]domain.Work, error) {
	return a.store.ListWorks()
}

// GetWork retrieves one work.
func (a *App) GetWork(id string) (domain.Work, error) {
	work, ok, err := a.store.GetWork(id)
	if err != nil {
		return domain.Work{}, err
	}
	if !ok {
		return domain.Work{}, fmt.Errorf("%w: work %s", ErrNotFound, id)
	}
	return work, nil
}

// MediaURLs carries pre-signed links to a work's stored media.
type MediaURLs struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// GetMediaURLs returns pre-signed URLs for the work's stored media file and
// its thumbnail, when one exists.
func (a *App) GetMediaURLs(id string) (MediaURLs, error) {
	work, err := a.GetWork(id)
	if err != nil {
		return MediaURLs{}, err
	}
	if strings.TrimSpace(work.FileKey) == "" {
		return MediaURLs{}, fmt.Errorf("%w: work %s has no stored media", ErrMissingData, id)
	}
	url, err := a.objects.PresignGet(context.Background(), work.FileKey, a.presignExpiry)
	if err != nil {
		return MediaURLs{}, err
	}
	links := MediaURLs{URL: url}
	if work.ThumbKey != "" {
		thumb, err := a.objects.PresignGet(context.Background(), work.ThumbKey, a.presignExpiry)
		if err != nil {
			return MediaURLs{}, err
		}
		links.ThumbnailURL = thumb
	}
	return links, nil
}

// DeleteWork removes the work, all of its infringements, and the stored
// media, leaving no orphans behind.
func (a *App) DeleteWork(id string) error {
	work, ok, err := a.store.GetWork(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: work %s", ErrNotFound, id)
	}
	if err := a.store.DeleteWork(id); err != nil {
		return err
	}
	if work.FileKey != "" {
		if err := a.objects.Delete(context.Background(), work.FileKey); err != nil {
			slog.Warn("stored media cleanup failed", "workId", id, "err", err)
		}
	}
	return nil
}

// GetWorkInfringements returns a work's infringements in detection order,
// oldest first.
func (a *App) GetWorkInfringements(workID string) ([]domain.Infringement, error) {
	if _, ok, err := a.store.GetWork(workID); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: work %s", ErrNotFound, workID)
	}
	return a.store.ListInfringementsByWork(workID)
}

// ListInfringements returns infringements matching the filter, newest first.
func (a *App) ListInfringements(filter store.InfringementFilter) ([]domain.Infringement, error) {
	return a.store.ListInfringements(filter)
}

// UpdateInfringementStatus moves one infringement through its resolution
// state machine. Illegal moves leave the record unchanged. Entering
// resolved stamps resolvedAt exactly once.
func (a *App) UpdateInfringementStatus(id string, next domain.InfringementStatus) (domain.Infringement, error) {
	inf, ok, err := a.store.GetInfringement(id)
	if err != nil {
		return domain.Infringement{}, err
	}
	if !ok {
		return domain.Infringement{}, fmt.Errorf("%w: infringement %s", ErrNotFound, id)
	}
	if !domain.CanResolve(inf.Status, next) {
		return domain.Infringement{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inf.Status, next)
	}
	var resolvedAt *time.Time
	if next == domain.InfringementResolved && inf.ResolvedAt == nil {
		t := a.now()
		resolvedAt = &t
	}
	moved, err := a.store.TransitionInfringement(id, inf.Status, next, resolvedAt)
	if err != nil {
		return domain.Infringement{}, err
	}
	if !moved {
		// Lost a race with another writer; the current status no longer
		// permits this move.
		return domain.Infringement{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inf.Status, next)
	}
	updated, _, err := a.store.GetInfringement(id)
	if err != nil {
		return domain.Infringement{}, err
	}
	return updated, nil
}

func kindForFilename(filename string) (domain.MediaKind, bool) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")) {
	case "jpg", "jpeg", "png", "gif", "webp", "bmp":
		return domain.KindIllustration, true
	case "mp3", "wav", "flac", "m4a", "ogg", "aac":
		return domain.KindMusic, true
	case "mp4", "mov", "webm", "avi", "mkv":
		return domain.KindVideo, true
	default:
		return "", false
	}
}

func contentTypeForKind(kind domain.MediaKind, filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch kind {
	case domain.KindIllustration:
		if ext == "jpg" {
			ext = "jpeg"
		}
		return "image/" + ext
	case domain.KindMusic:
		if ext == "mp3" {
			return "audio/mpeg"
		}
		return "audio/" + ext
	case domain.KindVideo:
		return "video/" + ext
	default:
		return "application/octet-stream"
	}
}

func titleFromName(filename, title string) string {
	title = strings.TrimSpace(title)
	if title != "" {
		return title
	}
	base := filepath.Base(filename)
	title = strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if title == "" {
		return "無題の作品"
	}
	return title
}

func buildStorageKey(workID, filename string) string {
	name := sanitizeFilename(filepath.Base(filename))
	if name == "" {
		name = "media"
	}
	return path.Join("works", workID, name)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
