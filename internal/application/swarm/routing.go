package swarm

import (
	"sort"
	"time"
)

// candidate is a scored routing option
type candidate struct {
	p     *participantState
	score float64
}

// scoreLocked computes the routing score of p for the task tags
func (o *Orchestrator) scoreLocked(p *participantState, tags []string) float64 {
	return o.params.SpecializationWeight*specializationMatch(p.Specializations, tags) +
		o.params.LatencyWeight*inverseLatency(p.recentLatency()) +
		o.params.SuccessWeight*p.successRate()
}

// rankLocked returns the eligible successors of current, best first.
// Ties keep registration order.
func (o *Orchestrator) rankLocked(current string, tags []string) []candidate {
	from := o.byID[current]
	var out []candidate
	for _, p := range o.participants {
		if p.AgentID == current {
			continue
		}
		if from != nil && !from.CanHandoffTo(p.AgentID) {
			continue
		}
		score := o.scoreLocked(p, tags)
		if score < o.params.MinScore {
			continue
		}
		out = append(out, candidate{p: p, score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].score > out[j].score
	})
	return out
}

// bestLocked returns the best participant over the whole roster
func (o *Orchestrator) bestLocked(tags []string) candidate {
	best := candidate{p: o.participants[0], score: o.scoreLocked(o.participants[0], tags)}
	for _, p := range o.participants[1:] {
		if s := o.scoreLocked(p, tags); s > best.score {
			best = candidate{p: p, score: s}
		}
	}
	return best
}

// specializationMatch is the share of tags the participant covers
func specializationMatch(specializations, tags []string) float64 {
	if len(tags) == 0 {
		return 0
	}
	have := make(map[string]struct{}, len(specializations))
	for _, s := range specializations {
		have[s] = struct{}{}
	}
	seen := make(map[string]struct{}, len(tags))
	matched := 0
	for _, t := range tags {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := have[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(seen))
}

func inverseLatency(d time.Duration) float64 {
	return 1 / (1 + d.Seconds())
}

// recentLatency averages the last turns. No history counts as zero.
func (p *participantState) recentLatency() time.Duration {
	if len(p.recent) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range p.recent {
		total += d
	}
	return total / time.Duration(len(p.recent))
}

// successRate is the share of successful turns. No history counts as 1.
func (p *participantState) successRate() float64 {
	if p.turns == 0 {
		return 1
	}
	return float64(p.turns-p.failedTurns) / float64(p.turns)
}

func (p *participantState) recordTurn(latency time.Duration, failed bool) {
	p.turns++
	if failed {
		p.failedTurns++
	}
	p.totalLatency += latency
	p.recent = append(p.recent, latency)
	if len(p.recent) > recentWindow {
		p.recent = p.recent[len(p.recent)-recentWindow:]
	}
}
