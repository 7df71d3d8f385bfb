package game

import "sort"

// TallyResult is the outcome of counting one day's votes.
type TallyResult struct {
	Counts      map[string]int // target seat id -> distinct voters
	Leader      string         // empty when nobody is eliminated
	LeaderVotes int
	Tie         bool
}

// Tally counts the current, non-retracted votes of a day.
// votes maps voter seat id to target seat id; an empty target is a retraction.
// A tie for the most votes eliminates nobody. With requireMajority the leader also needs
// more than half of aliveCount.
func Tally(votes map[string]string, aliveCount int, requireMajority bool) TallyResult {
	res := TallyResult{Counts: make(map[string]int)}
	for _, target := range votes {
		if target == "" {
			continue
		}
		res.Counts[target]++
	}

	targets := make([]string, 0, len(res.Counts))
	for t := range res.Counts {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	var leaders []string
	for _, t := range targets {
		c := res.Counts[t]
		switch {
		case c > res.LeaderVotes:
			res.LeaderVotes = c
			leaders = []string{t}
		case c == res.LeaderVotes:
			leaders = append(leaders, t)
		}
	}

	if len(leaders) > 1 {
		res.Tie = true
		return res
	}
	if len(leaders) == 1 {
		if requireMajority && res.LeaderVotes <= aliveCount/2 {
			return res
		}
		res.Leader = leaders[0]
	}
	return res
}

// stagedPick is one staged night ability with its validation order.
type stagedPick struct {
	target string
	seq    uint64
}

// NightPlan is what the night→day transition applies.
type NightPlan struct {
	Victim      string            // empty when nobody dies
	Protected   string            // seat saved by a protect ability, if it blocked the kill
	Inspections map[string]string // investigator seat id -> inspected seat id
}

// StagedAction is a night ability waiting for resolution. Seq orders validation.
type StagedAction struct {
	Actor  string
	Action ActionType
	Target string
	Seq    uint64
}

// ResolveNight applies the last staged action of each actor.
//
// The kill target is the plurality of the kill picks; ties go to the pick validated last.
// A protect on the same target cancels the kill.
func ResolveNight(staged map[string]StagedAction) NightPlan {
	plan := NightPlan{Inspections: make(map[string]string)}
	kills := make(map[string]stagedPick)
	protected := make(map[string]bool)

	for _, a := range staged {
		switch a.Action {
		case ActionKill:
			p := kills[a.Target]
			p.target = a.Target
			if a.Seq > p.seq {
				p.seq = a.Seq
			}
			kills[a.Target] = p
		case ActionProtect:
			protected[a.Target] = true
		case ActionInvestigate:
			plan.Inspections[a.Actor] = a.Target
		}
	}

	counts := make(map[string]int)
	for _, a := range staged {
		if a.Action == ActionKill {
			counts[a.Target]++
		}
	}

	var best stagedPick
	bestCount := 0
	for target, pick := range kills {
		c := counts[target]
		if c > bestCount || (c == bestCount && pick.seq > best.seq) {
			best, bestCount = pick, c
		}
	}
	if bestCount == 0 {
		return plan
	}
	if protected[best.target] {
		plan.Protected = best.target
		return plan
	}
	plan.Victim = best.target
	return plan
}
