package stats

import (
	"testing"
)

func TestAccumulatorFlushMovesRoundIntoTotal(t *testing.T) {
	var acc Accumulator
	acc.AddKill()
	acc.AddKill()
	acc.AddDeath()
	acc.ObserveSpree(2)
	acc.ObserveSpree(1)
	acc.AddTicksInGame(100)
	acc.AddTicksCaught(-5)

	snap := acc.Flush()
	if snap.Kills != 2 || snap.Deaths != 1 || snap.BestSpree != 2 || snap.TicksInGame != 100 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.TicksCaught != 0 {
		t.Fatalf("negative tick delta was recorded: %d", snap.TicksCaught)
	}
	if acc.Round.HasValues() {
		t.Fatalf("round not reset after flush: %+v", acc.Round)
	}

	acc.AddKill()
	acc.ObserveSpree(1)
	acc.Flush()
	if acc.Total.Kills != 3 {
		t.Fatalf("total kills = %d, want 3", acc.Total.Kills)
	}
	if acc.Total.BestSpree != 2 {
		t.Fatalf("total best spree = %d, want 2", acc.Total.BestSpree)
	}
}

func TestAccumulatorCombined(t *testing.T) {
	var acc Accumulator
	acc.AddPoints(4)
	acc.Flush()
	acc.AddPoints(2)
	acc.AddWin()

	got := acc.Combined()
	if got.Points != 6 || got.Wins != 1 {
		t.Fatalf("combined = %+v", got)
	}

	acc.Reset()
	if acc.Combined().HasValues() {
		t.Fatalf("reset left values behind")
	}
}

func TestNormalizeName(t *testing.T) {
	decomposed := "  Jose\u0301 "
	if got := NormalizeName(decomposed); got != "Jos\u00e9" {
		t.Fatalf("NormalizeName = %q", got)
	}
}
