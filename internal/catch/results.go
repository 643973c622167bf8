package catch

import (
	"errors"

	"github.com/siohaza/catchd/internal/persist"
	"github.com/siohaza/catchd/internal/player"
	"github.com/siohaza/catchd/internal/stats"
)

type pending struct {
	result *persist.Result
	owner  player.ID
	serial uint64
	lookup string
}

// flush submits p's round counters. The round is cleared even when the
// queue rejects the request.
func (e *Engine) flush(p *player.Participant) {
	rec := p.Stats.Flush()
	if !rec.HasValues() || e.queue == nil {
		return
	}

	res, err := e.queue.SubmitWrite(persist.NewWriteRequest(p.Name, e.cfg.Table, e.schema, rec))
	if err != nil {
		e.logger.Warn("failed to queue stats", "player", p.Name, "error", err)
		return
	}
	e.pending = append(e.pending, pending{result: res, owner: p.ID, serial: p.Serial})
}

// RequestStats looks up the persisted record of name for requester. The
// answer is delivered from Tick once the store has replied.
func (e *Engine) RequestStats(requester player.ID, name string) error {
	p, ok := e.players().Get(requester)
	if !ok {
		return errors.New("unknown requester")
	}
	if e.queue == nil {
		e.send(p.ID, "Stats are disabled on this server.")
		return nil
	}
	if name == "" {
		name = p.Name
	}

	res, err := e.queue.SubmitRead(persist.NewReadRequest(name, e.cfg.Table, e.schema))
	if err != nil {
		e.send(p.ID, "Stats are busy, try again later.")
		return err
	}
	e.pending = append(e.pending, pending{result: res, owner: p.ID, serial: p.Serial, lookup: name})
	return nil
}

// RoundStats sends requester the counters of the current round.
func (e *Engine) RoundStats(requester player.ID) {
	p, ok := e.players().Get(requester)
	if !ok {
		return
	}
	e.sendRecord(p.ID, "round stats for '"+p.Name+"'", p.Stats.Round)
}

func (e *Engine) PendingResults() int {
	return len(e.pending)
}

// Tick polls outstanding store results. Each completed result is handled
// once and dropped; answers for participants that left are discarded.
func (e *Engine) Tick() {
	if len(e.pending) == 0 {
		return
	}

	kept := e.pending[:0]
	for _, pr := range e.pending {
		if !pr.result.Done() {
			kept = append(kept, pr)
			continue
		}
		owner, ok := e.players().Current(pr.owner, pr.serial)
		if !ok || pr.result.Op() != persist.OpRead {
			continue
		}
		e.deliverLookup(owner, pr)
	}
	for i := len(kept); i < len(e.pending); i++ {
		e.pending[i] = pending{}
	}
	e.pending = kept
}

func (e *Engine) deliverLookup(owner *player.Participant, pr pending) {
	res := pr.result
	switch {
	case res.Err() != nil:
		e.send(owner.ID, "Failed to load stats for '%s'.", pr.lookup)
	case !res.Found():
		e.send(owner.ID, "'%s' has no stats yet.", pr.lookup)
	default:
		e.sendRecord(owner.ID, "stats for '"+pr.lookup+"'", res.Record())
	}
}

func (e *Engine) sendRecord(to player.ID, title string, rec stats.Record) {
	tickSpeed := int64(e.Host().TickSpeed())
	if tickSpeed <= 0 {
		tickSpeed = 1
	}
	e.send(to, "~~~ %s ~~~", title)
	e.send(to, "~ Points: %d", rec.Points)
	e.send(to, "~ Kills: %d", rec.Kills)
	e.send(to, "~ Deaths: %d", rec.Deaths)
	e.send(to, "~ Wins: %d", rec.Wins)
	e.send(to, "~ Losses: %d", rec.Losses)
	e.send(to, "~ Best spree: %d", rec.BestSpree)
	e.send(to, "~ Seconds in game: %d", rec.TicksInGame/tickSpeed)
	e.send(to, "~ Seconds caught: %d", rec.TicksCaught/tickSpeed)
}
