package app

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"loreanchor/internal/util"
	"loreanchor/pkg/domain"
	"loreanchor/pkg/scan"
	"loreanchor/pkg/store"
)

// StartScan re-enters scanning for an existing work and enqueues a scan.
// A work already in scanning is left alone: the request coalesces with the
// in-flight scan instead of starting a second one.
func (a *App) StartScan(workID string) error {
	work, ok, err := a.store.GetWork(workID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: work %s", ErrNotFound, workID)
	}
	if work.Status == domain.WorkScanning {
		return nil
	}
	if err := a.store.SetWorkStatus(workID, domain.WorkScanning, ""); err != nil {
		return err
	}
	if err := a.queue.Enqueue(context.Background(), workID); err != nil {
		scanErr := fmt.Sprintf("scan could not be started: %v", err)
		_ = a.store.SetWorkStatus(workID, domain.WorkSafe, scanErr)
		slog.Error("scan enqueue failed", "workId", workID, "err", err)
	}
	return nil
}

// RunScan executes one scan for a work. Duplicate deliveries of the same
// job share a single execution via singleflight; works are independent, so
// scans for different works run fully in parallel.
func (a *App) RunScan(ctx context.Context, workID string) error {
	_, err, _ := a.scans.Do(workID, func() (any, error) {
		return nil, a.runScan(ctx, workID)
	})
	return err
}

func (a *App) runScan(ctx context.Context, workID string) error {
	work, ok, err := a.store.GetWork(workID)
	if err != nil {
		return err
	}
	if !ok {
		// Deleted while queued; nothing to scan.
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.scanTimeout)
	defer cancel()

	obj, _, err := a.objects.Get(ctx, work.FileKey)
	if err != nil {
		return a.failScan(work, fmt.Sprintf("source content unavailable: %v", err))
	}
	defer obj.Close()

	results, err := a.scanner.Search(ctx, path.Base(work.FileKey), obj, work.Whitelist)
	if err != nil {
		return a.failScan(work, fmt.Sprintf("similarity search failed: %v", err))
	}

	matches := scan.Evaluate(results, work.Whitelist)
	completedAt := a.now()
	candidates := make([]domain.Infringement, 0, len(matches))
	for _, m := range matches {
		if !m.Suspicious {
			continue
		}
		candidates = append(candidates, domain.Infringement{
			ID:         util.NewID(),
			WorkID:     work.ID,
			SiteURL:    m.URL,
			SiteName:   m.Domain,
			Similarity: m.Similarity,
			Status:     domain.InfringementPending,
			DetectedAt: completedAt,
		})
	}

	status := domain.WorkSafe
	if len(candidates) > 0 {
		status = domain.WorkInfringed
	}
	added, err := a.store.CompleteScan(work.ID, store.ScanOutcome{
		Status:     status,
		ScannedAt:  completedAt,
		Candidates: candidates,
	})
	if err != nil {
		return fmt.Errorf("record scan outcome: %w", err)
	}
	slog.Info("scan completed",
		"workId", work.ID,
		"status", status,
		"matches", len(matches),
		"suspicious", len(candidates),
		"added", added,
	)
	return nil
}

// failScan degrades a work to safe so it never sticks in scanning. The
// failure stays visible on the record and in the log; callers can tell
// "confirmed safe" from "scan failed" by the scan error.
func (a *App) failScan(work domain.Work, reason string) error {
	if _, err := a.store.CompleteScan(work.ID, store.ScanOutcome{
		Status:    domain.WorkSafe,
		ScanError: reason,
		ScannedAt: a.now(),
	}); err != nil {
		return fmt.Errorf("record failed scan: %w", err)
	}
	slog.Error("scan failed", "workId", work.ID, "reason", reason)
	return nil
}
