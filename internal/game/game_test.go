package game

import (
	"errors"
	"math/rand/v2"
	"testing"
	"testing/quick"
)

func seatIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	return ids
}

func countRoles(as []Assignment) map[string]int {
	out := make(map[string]int)
	for _, a := range as {
		out[a.RoleID]++
	}
	return out
}

func TestAssignRolesFiveSeats(t *testing.T) {
	pool := NewRolePool(DefaultRoles(), nil)
	as, err := AssignRoles(seatIDs(5), pool, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("AssignRoles: %v", err)
	}
	got := countRoles(as)
	if got[RoleWerewolf] != 1 || got[RoleSeer] != 1 || got[RoleVillager] != 3 || got[RoleDoctor] != 0 {
		t.Fatalf("unexpected distribution: %v", got)
	}
	for _, a := range as {
		if a.RoleID == RoleWerewolf && a.Team != TeamWerewolf {
			t.Errorf("werewolf assigned to team %q", a.Team)
		}
	}
}

func TestAssignRolesDistribution(t *testing.T) {
	pool := NewRolePool(DefaultRoles(), nil)
	tests := []struct {
		n                      int
		wolves, seers, doctors int
	}{
		{3, 1, 1, 0},
		{4, 1, 1, 0},
		{6, 2, 1, 1},
		{9, 3, 1, 1},
		{12, 4, 1, 1},
	}
	for _, tt := range tests {
		as, err := AssignRoles(seatIDs(tt.n), pool, rand.New(rand.NewPCG(7, 7)))
		if err != nil {
			t.Fatalf("n=%d: %v", tt.n, err)
		}
		got := countRoles(as)
		if got[RoleWerewolf] != tt.wolves || got[RoleSeer] != tt.seers || got[RoleDoctor] != tt.doctors {
			t.Errorf("n=%d: got %v", tt.n, got)
		}
		if len(as) != tt.n {
			t.Errorf("n=%d: %d assignments", tt.n, len(as))
		}
	}
}

func TestAssignRolesDeterministicWithSeed(t *testing.T) {
	pool := NewRolePool(DefaultRoles(), nil)
	a, _ := AssignRoles(seatIDs(8), pool, rand.New(rand.NewPCG(42, 0)))
	b, _ := AssignRoles(seatIDs(8), pool, rand.New(rand.NewPCG(42, 0)))
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("assignment %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestRolePoolRestrictsToSettings(t *testing.T) {
	pool := NewRolePool(DefaultRoles(), []string{RoleVillager, RoleWerewolf})
	if pool.Investigate != nil || pool.Protect != nil {
		t.Fatalf("pool should only contain villager and werewolf: %+v", pool)
	}
	as, err := AssignRoles(seatIDs(5), pool, rand.New(rand.NewPCG(3, 3)))
	if err != nil {
		t.Fatal(err)
	}
	if got := countRoles(as); got[RoleVillager] != 4 {
		t.Fatalf("expected 4 villagers, got %v", got)
	}
}

func TestTally(t *testing.T) {
	tests := []struct {
		name     string
		votes    map[string]string
		alive    int
		majority bool
		leader   string
		tie      bool
	}{
		{"plurality", map[string]string{"A": "X", "B": "X", "C": "Y"}, 5, false, "X", false},
		{"tie", map[string]string{"A": "X", "B": "Y"}, 4, false, "", true},
		{"retraction ignored", map[string]string{"A": "X", "B": "", "C": ""}, 3, false, "X", false},
		{"no votes", map[string]string{}, 3, false, "", false},
		{"majority missing", map[string]string{"A": "X", "B": "X", "C": "Y"}, 5, true, "", false},
		{"majority reached", map[string]string{"A": "X", "B": "X", "C": "X"}, 5, true, "X", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Tally(tt.votes, tt.alive, tt.majority)
			if res.Leader != tt.leader || res.Tie != tt.tie {
				t.Errorf("got leader=%q tie=%v, want %q %v", res.Leader, res.Tie, tt.leader, tt.tie)
			}
		})
	}
	if res := Tally(map[string]string{"A": "X", "B": "X", "C": "Y"}, 3, false); res.Counts["X"] != 2 {
		t.Errorf("X count = %d, want 2", res.Counts["X"])
	}
}

func TestResolveNight(t *testing.T) {
	staged := map[string]StagedAction{
		"w1": {Actor: "w1", Action: ActionKill, Target: "v1", Seq: 1},
		"w2": {Actor: "w2", Action: ActionKill, Target: "v2", Seq: 2},
		"s":  {Actor: "s", Action: ActionInvestigate, Target: "w1", Seq: 3},
	}
	plan := ResolveNight(staged)
	if plan.Victim != "v2" {
		t.Errorf("tie should go to the last pick, got %q", plan.Victim)
	}
	if plan.Inspections["s"] != "w1" {
		t.Errorf("inspection missing: %v", plan.Inspections)
	}

	staged["d"] = StagedAction{Actor: "d", Action: ActionProtect, Target: "v2", Seq: 4}
	plan = ResolveNight(staged)
	if plan.Victim != "" || plan.Protected != "v2" {
		t.Errorf("protect should cancel the kill: %+v", plan)
	}

	if plan := ResolveNight(nil); plan.Victim != "" {
		t.Errorf("no actions should kill nobody: %+v", plan)
	}
}

func TestEvaluateWin(t *testing.T) {
	seat := func(team Team, alive bool) Seat { return Seat{Team: team, Alive: alive} }
	tests := []struct {
		name  string
		seats []Seat
		want  Team
	}{
		{"no wolves", []Seat{seat(TeamWerewolf, false), seat(TeamVillage, true)}, TeamVillage},
		{"parity", []Seat{seat(TeamWerewolf, true), seat(TeamVillage, true), seat(TeamVillage, false)}, TeamWerewolf},
		{"continue", []Seat{seat(TeamWerewolf, true), seat(TeamVillage, true), seat(TeamVillage, true)}, TeamNone},
	}
	for _, tt := range tests {
		if got := EvaluateWin(tt.seats); got != tt.want {
			t.Errorf("%s: got %q want %q", tt.name, got, tt.want)
		}
	}
}

func TestEvaluateWinProperty(t *testing.T) {
	f := func(wolves, villagers uint8) bool {
		w, v := int(wolves%10), int(villagers%10)
		var seats []Seat
		for range w {
			seats = append(seats, Seat{Team: TeamWerewolf, Alive: true})
		}
		for range v {
			seats = append(seats, Seat{Team: TeamVillage, Alive: true})
		}
		got := EvaluateWin(seats)
		switch {
		case w == 0:
			return got == TeamVillage
		case w >= v:
			return got == TeamWerewolf
		default:
			return got == TeamNone
		}
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestValidateActionOrder(t *testing.T) {
	wolfRole := &Role{ID: RoleWerewolf, Team: TeamWerewolf, Ability: AbilityKill}
	villagerRole := &Role{ID: RoleVillager, Team: TeamVillage, Ability: AbilityNone}
	seats := map[string]*Seat{
		"w": {ID: "w", Alive: true, Team: TeamWerewolf},
		"v": {ID: "v", Alive: true, Team: TeamVillage},
		"d": {ID: "d", Alive: false, Team: TeamVillage},
	}
	lookup := func(id string) *Seat { return seats[id] }

	tests := []struct {
		name   string
		seat   *Seat
		role   *Role
		phase  Phase
		action ActionType
		target []string
		want   error
	}{
		{"missing seat", nil, wolfRole, PhaseDay, ActionKill, []string{"v"}, ErrPlayerNotFound},
		{"dead before role", seats["d"], villagerRole, PhaseDay, ActionKill, []string{"v"}, ErrDeadPlayer},
		{"dead vote", seats["d"], villagerRole, PhaseDay, ActionVote, []string{"v"}, ErrDeadPlayer},
		{"role before phase", seats["v"], villagerRole, PhaseDay, ActionKill, []string{"w"}, ErrInvalidRoleAction},
		{"kill by day", seats["w"], wolfRole, PhaseDay, ActionKill, []string{"v"}, ErrInvalidPhase},
		{"vote at night", seats["v"], villagerRole, PhaseNight, ActionVote, []string{"w"}, ErrInvalidPhase},
		{"dead target", seats["w"], wolfRole, PhaseNight, ActionKill, []string{"d"}, ErrInvalidTarget},
		{"own team", seats["w"], wolfRole, PhaseNight, ActionKill, []string{"w"}, ErrInvalidTarget},
		{"ok kill", seats["w"], wolfRole, PhaseNight, ActionKill, []string{"v"}, nil},
		{"ok vote", seats["v"], villagerRole, PhaseVoting, ActionVote, []string{"w"}, nil},
		{"retract", seats["v"], villagerRole, PhaseDay, ActionVote, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAction(tt.seat, tt.role, tt.phase, tt.action, tt.target, lookup)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	order := map[Status]int{StatusLobby: 0, StatusInProgress: 1, StatusCompleted: 2, StatusAbandoned: 2}
	all := []Status{StatusLobby, StatusInProgress, StatusCompleted, StatusAbandoned}
	for _, from := range all {
		for _, to := range all {
			if from.CanTransitionTo(to) && order[to] <= order[from] {
				t.Errorf("%s -> %s should not be allowed", from, to)
			}
		}
	}
}

func TestPhaseCycle(t *testing.T) {
	p := PhaseNight
	seen := []Phase{p}
	for range 4 {
		p, _ = p.Next()
		seen = append(seen, p)
	}
	want := []Phase{PhaseNight, PhaseDay, PhaseVoting, PhaseResults, PhaseNight}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("cycle = %v, want %v", seen, want)
		}
	}
	if _, ok := PhaseEnded.Next(); ok {
		t.Error("ended must be terminal")
	}
}
