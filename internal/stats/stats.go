package stats

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

type Record struct {
	Kills       int64
	Deaths      int64
	BestSpree   int64
	Wins        int64
	Losses      int64
	Points      int64
	TicksInGame int64
	TicksCaught int64
}

func (r Record) HasValues() bool {
	return r != Record{}
}

func (r Record) Clone() Record {
	return r
}

// add folds other into r: counters sum, best spree keeps the larger value.
func (r Record) add(other Record) Record {
	r.Kills += other.Kills
	r.Deaths += other.Deaths
	r.Wins += other.Wins
	r.Losses += other.Losses
	r.Points += other.Points
	r.TicksInGame += other.TicksInGame
	r.TicksCaught += other.TicksCaught
	if other.BestSpree > r.BestSpree {
		r.BestSpree = other.BestSpree
	}
	return r
}

// Accumulator holds the counters of one participant. Round is reset on
// every flush, Total keeps everything flushed since the participant joined.
type Accumulator struct {
	Round Record
	Total Record
}

func (a *Accumulator) AddKill() {
	a.Round.Kills++
}

func (a *Accumulator) AddDeath() {
	a.Round.Deaths++
}

func (a *Accumulator) AddWin() {
	a.Round.Wins++
}

func (a *Accumulator) AddLoss() {
	a.Round.Losses++
}

func (a *Accumulator) AddPoints(n int) {
	if n > 0 {
		a.Round.Points += int64(n)
	}
}

func (a *Accumulator) AddTicksInGame(ticks int64) {
	if ticks > 0 {
		a.Round.TicksInGame += ticks
	}
}

func (a *Accumulator) AddTicksCaught(ticks int64) {
	if ticks > 0 {
		a.Round.TicksCaught += ticks
	}
}

func (a *Accumulator) ObserveSpree(spree int) {
	if int64(spree) > a.Round.BestSpree {
		a.Round.BestSpree = int64(spree)
	}
}

// Flush returns the round snapshot, folds it into Total and clears Round.
func (a *Accumulator) Flush() Record {
	snapshot := a.Round
	a.Total = a.Total.add(snapshot)
	a.Round = Record{}
	return snapshot
}

// Combined is everything recorded for the participant, flushed or not.
func (a *Accumulator) Combined() Record {
	return a.Total.add(a.Round)
}

func (a *Accumulator) Reset() {
	*a = Accumulator{}
}

// NormalizeName returns the key under which a participant's record is stored.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
