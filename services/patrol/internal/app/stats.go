package app

import (
	"loreanchor/pkg/domain"
	"loreanchor/pkg/store"
)

// ComputeStats derives the statistics snapshot from the current
// collections. Pure and deterministic: no side effects, and two calls over
// the same input yield identical results. Counts are always recomputed in
// full; there are no incremental counters to drift.
func ComputeStats(works []domain.Work, infringements []domain.Infringement) domain.Stats {
	var s domain.Stats
	for _, w := range works {
		if w.AutoMonitor {
			s.Works.Monitoring++
		}
		switch w.Status {
		case domain.WorkInfringed:
			s.Works.Infringed++
		case domain.WorkSafe:
			s.Works.Safe++
		case domain.WorkScanning:
			s.Works.Scanning++
		}
	}
	for _, inf := range infringements {
		switch inf.Status {
		case domain.InfringementPending:
			s.Infringements.Pending++
		case domain.InfringementSent:
			s.Infringements.Sent++
		case domain.InfringementResolved:
			s.Infringements.Resolved++
		case domain.InfringementFalsePositive:
			s.Infringements.FalsePositive++
		}
		s.Infringements.Total++
	}
	return s
}

// Statistics returns a fresh snapshot over the live collections.
func (a *App) Statistics() (domain.Stats, error) {
	works, err := a.store.ListWorks()
	if err != nil {
		return domain.Stats{}, err
	}
	infringements, err := a.store.ListInfringements(store.InfringementFilter{})
	if err != nil {
		return domain.Stats{}, err
	}
	return ComputeStats(works, infringements), nil
}
