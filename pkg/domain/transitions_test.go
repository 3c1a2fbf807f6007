package domain

import "testing"

func TestCanResolveAllowedMoves(t *testing.T) {
	allowed := []struct{ from, to InfringementStatus }{
		{InfringementPending, InfringementSent},
		{InfringementPending, InfringementFalsePositive},
		{InfringementSent, InfringementResolved},
	}
	for _, tc := range allowed {
		if !CanResolve(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}
}

func TestCanResolveRejectsEverythingElse(t *testing.T) {
	statuses := []InfringementStatus{
		InfringementPending,
		InfringementSent,
		InfringementResolved,
		InfringementFalsePositive,
	}
	allowed := map[[2]InfringementStatus]bool{
		{InfringementPending, InfringementSent}:          true,
		{InfringementPending, InfringementFalsePositive}: true,
		{InfringementSent, InfringementResolved}:         true,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[[2]InfringementStatus{from, to}]
			if got := CanResolve(from, to); got != want {
				t.Fatalf("CanResolve(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestParseInfringementStatus(t *testing.T) {
	if got, ok := ParseInfringementStatus("  Sent "); !ok || got != InfringementSent {
		t.Fatalf("ParseInfringementStatus(\" Sent \") = %q, %v", got, ok)
	}
	if got, ok := ParseInfringementStatus("false_positive"); !ok || got != InfringementFalsePositive {
		t.Fatalf("ParseInfringementStatus(false_positive) = %q, %v", got, ok)
	}
	if _, ok := ParseInfringementStatus("dismissed"); ok {
		t.Fatalf("expected unknown status to be rejected")
	}
}

func TestParseWorkStatus(t *testing.T) {
	if got, ok := ParseWorkStatus("INFRINGED"); !ok || got != WorkInfringed {
		t.Fatalf("ParseWorkStatus(INFRINGED) = %q, %v", got, ok)
	}
	if _, ok := ParseWorkStatus("queued"); ok {
		t.Fatalf("expected unknown work status to be rejected")
	}
}
