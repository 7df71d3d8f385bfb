package game

import (
	"math/rand/v2"
)

// Built-in role ids.
const (
	RoleVillager = "villager"
	RoleWerewolf = "werewolf"
	RoleSeer     = "seer"
	RoleDoctor   = "doctor"
)

// DefaultRoles is the reference role table seeded into every store.
func DefaultRoles() []Role {
	return []Role{
		{ID: RoleVillager, Name: "Villager", Team: TeamVillage, Ability: AbilityNone, Arity: ArityNone, Enabled: true},
		{ID: RoleWerewolf, Name: "Werewolf", Team: TeamWerewolf, Ability: AbilityKill, Arity: AritySingle, Enabled: true},
		{ID: RoleSeer, Name: "Seer", Team: TeamVillage, Ability: AbilityInvestigate, Arity: AritySingle, Enabled: true},
		{ID: RoleDoctor, Name: "Doctor", Team: TeamVillage, Ability: AbilityProtect, Arity: AritySingle, Enabled: true},
	}
}

// Assignment is the role given to one seat at game start.
type Assignment struct {
	SeatID string
	RoleID string
	Team   Team
}

// RolePool is the set of roles a session may hand out, keyed by ability.
type RolePool struct {
	Kill        *Role
	Investigate *Role
	Protect     *Role
	Neutral     *Role
}

// NewRolePool picks, for each ability, the first enabled role allowed by ids.
// An empty ids list allows every enabled role.
func NewRolePool(roles []Role, ids []string) RolePool {
	allowed := make(map[string]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}
	var pool RolePool
	for i := range roles {
		r := &roles[i]
		if !r.Enabled || (len(ids) > 0 && !allowed[r.ID]) {
			continue
		}
		switch r.Ability {
		case AbilityKill:
			if pool.Kill == nil {
				pool.Kill = r
			}
		case AbilityInvestigate:
			if pool.Investigate == nil {
				pool.Investigate = r
			}
		case AbilityProtect:
			if pool.Protect == nil {
				pool.Protect = r
			}
		case AbilityNone:
			if pool.Neutral == nil {
				pool.Neutral = r
			}
		}
	}
	return pool
}

// AssignRoles distributes roles over seatIDs.
//
// ⌊N/3⌋ seats (at least one) get the kill role, one seat gets the investigate role when at
// least two non-kill seats remain, one seat gets the protect role when N >= 6, and every
// other seat gets the neutral role. Seats are shuffled with rng, so a fixed seed gives a
// fixed assignment.
func AssignRoles(seatIDs []string, pool RolePool, rng *rand.Rand) ([]Assignment, error) {
	n := len(seatIDs)
	if pool.Kill == nil || pool.Neutral == nil {
		return nil, Errorf(CodeBadRequest, "role pool needs a kill role and a neutral role")
	}

	order := make([]string, n)
	copy(order, seatIDs)
	rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

	kills := max(n/3, 1)
	roles := make([]*Role, 0, n)
	for range kills {
		roles = append(roles, pool.Kill)
	}
	if pool.Investigate != nil && n-kills >= 2 {
		roles = append(roles, pool.Investigate)
	}
	if pool.Protect != nil && n >= 6 && n-len(roles) >= 2 {
		roles = append(roles, pool.Protect)
	}
	for len(roles) < n {
		roles = append(roles, pool.Neutral)
	}

	out := make([]Assignment, n)
	for i, seatID := range order {
		out[i] = Assignment{SeatID: seatID, RoleID: roles[i].ID, Team: roles[i].Team}
	}
	return out, nil
}
