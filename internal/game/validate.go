package game

// ActionPhaseAllowed reports whether action may be submitted during phase p.
func ActionPhaseAllowed(action ActionType, p Phase) bool {
	switch action {
	case ActionKill, ActionInvestigate, ActionProtect:
		return p == PhaseNight
	case ActionVote:
		return p == PhaseDay || p == PhaseVoting
	case ActionReady:
		return p == PhaseNight || p.IsDaytime()
	}
	return false
}

// RoleGrants reports whether role may perform action. Vote and ready are open to every role.
func RoleGrants(role *Role, action ActionType) bool {
	switch action {
	case ActionVote, ActionReady:
		return true
	}
	if role == nil {
		return false
	}
	need := action.Ability()
	return need != AbilityNone && role.Ability == need
}

// ValidateAction checks a proposed action. The first failure wins, in this order:
// seat missing, seat dead, role does not grant the action, phase forbids it, bad target.
func ValidateAction(seat *Seat, role *Role, phase Phase, action ActionType, targets []string, seatByID func(string) *Seat) error {
	if seat == nil {
		return Errorf(CodePlayerNotFound, "player is not seated in this session")
	}
	if !seat.Alive {
		return Errorf(CodeDeadPlayer, "dead players cannot act")
	}
	if !RoleGrants(role, action) {
		return Errorf(CodeInvalidRoleAction, "your role cannot %s", action)
	}
	if !ActionPhaseAllowed(action, phase) {
		return Errorf(CodeInvalidPhase, "%s is not allowed during %s", action, phase)
	}
	return validateTargets(seat, action, targets, seatByID)
}

func validateTargets(seat *Seat, action ActionType, targets []string, seatByID func(string) *Seat) error {
	switch action {
	case ActionReady:
		if len(targets) != 0 {
			return Errorf(CodeInvalidTarget, "ready takes no target")
		}
		return nil
	case ActionVote:
		// no target retracts the vote
		if len(targets) == 0 {
			return nil
		}
	}
	if len(targets) != 1 {
		return Errorf(CodeInvalidTarget, "%s needs exactly one target", action)
	}
	target := seatByID(targets[0])
	if target == nil {
		return Errorf(CodeInvalidTarget, "target is not seated in this session")
	}
	if !target.Alive {
		return Errorf(CodeInvalidTarget, "target is already dead")
	}
	if action == ActionKill && target.Team == seat.Team {
		return Errorf(CodeInvalidTarget, "cannot attack your own team")
	}
	if action == ActionInvestigate && target.ID == seat.ID {
		return Errorf(CodeInvalidTarget, "cannot investigate yourself")
	}
	return nil
}
