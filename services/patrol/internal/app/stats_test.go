package app

import (
	"context"
	"testing"
	"time"

	"loreanchor/pkg/domain"
	"loreanchor/pkg/scan"
)

func TestComputeStats(t *testing.T) {
	now := time.Now().UTC()
	works := []domain.Work{
		{ID: "w1", Status: domain.WorkInfringed, AutoMonitor: true},
		{ID: "w2", Status: domain.WorkSafe, AutoMonitor: true},
		{ID: "w3", Status: domain.WorkSafe},
		{ID: "w4", Status: domain.WorkScanning},
	}
	infringements := []domain.Infringement{
		{ID: "i1", Status: domain.InfringementPending},
		{ID: "i2", Status: domain.InfringementPending},
		{ID: "i3", Status: domain.InfringementSent},
		{ID: "i4", Status: domain.InfringementResolved, ResolvedAt: &now},
		{ID: "i5", Status: domain.InfringementFalsePositive},
	}

	got := ComputeStats(works, infringements)

	if got.Works.Monitoring != 2 {
		t.Fatalf("monitoring counts auto-monitored works regardless of status, got %d", got.Works.Monitoring)
	}
	if got.Works.Infringed != 1 || got.Works.Safe != 2 || got.Works.Scanning != 1 {
		t.Fatalf("work counts wrong: %+v", got.Works)
	}
	if got.Infringements.Pending != 2 || got.Infringements.Sent != 1 ||
		got.Infringements.Resolved != 1 || got.Infringements.FalsePositive != 1 {
		t.Fatalf("infringement counts wrong: %+v", got.Infringements)
	}
	if got.Infringements.Total != 5 {
		t.Fatalf("total must cover every status, got %d", got.Infringements.Total)
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	got := ComputeStats(nil, nil)
	if got != (domain.Stats{}) {
		t.Fatalf("empty collections must yield all zeros: %+v", got)
	}
}

func TestStatisticsDeterministic(t *testing.T) {
	e := newTestEnv(t)
	work := e.register(t, "sunset.png", 1<<20)
	e.scanner.results = []scan.Result{suspiciousResult("https://x.example/a", 97)}
	if err := e.app.RunScan(context.Background(), work.ID); err != nil {
		t.Fatalf("scan: %v", err)
	}
	e.register(t, "draft.png", 1<<20)

	first, err := e.app.Statistics()
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	second, err := e.app.Statistics()
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if first != second {
		t.Fatalf("repeated reads must agree: %+v vs %+v", first, second)
	}
	if first.Works.Infringed != 1 || first.Works.Scanning != 1 {
		t.Fatalf("unexpected work stats: %+v", first.Works)
	}
	if first.Infringements.Pending != 1 || first.Infringements.Total != 1 {
		t.Fatalf("unexpected infringement stats: %+v", first.Infringements)
	}
}
