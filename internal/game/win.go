package game

// AliveCounts returns the number of alive seats per team, recomputed from seats.
func AliveCounts(seats []Seat) map[Team]int {
	counts := make(map[Team]int)
	for _, s := range seats {
		if s.Alive && s.Team != TeamNone {
			counts[s.Team]++
		}
	}
	return counts
}

// EvaluateWin returns the winning team, or TeamNone while the game goes on.
// Werewolves win once they are at least as many as everybody else alive.
func EvaluateWin(seats []Seat) Team {
	counts := AliveCounts(seats)
	wolves := counts[TeamWerewolf]
	others := 0
	for team, c := range counts {
		if team != TeamWerewolf {
			others += c
		}
	}
	if wolves == 0 {
		return TeamVillage
	}
	if wolves >= others {
		return TeamWerewolf
	}
	return TeamNone
}
