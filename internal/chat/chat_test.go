package chat

import (
	"errors"
	"slices"
	"testing"

	"moonvillage/internal/game"
)

func testRoom(phase game.Phase) Room {
	return Room{
		Status:   game.StatusInProgress,
		Phase:    phase,
		Settings: game.DefaultSettings(),
		Seats: []game.Seat{
			{ID: "w1", Alive: true, Team: game.TeamWerewolf},
			{ID: "w2", Alive: true, Team: game.TeamWerewolf},
			{ID: "v1", Alive: true, Team: game.TeamVillage},
			{ID: "v2", Alive: true, Team: game.TeamVillage},
			{ID: "v3", Alive: false, Team: game.TeamVillage},
		},
	}
}

func sender(room Room, id string) *game.Seat { return room.seat(id) }

func TestWhisperAudienceIsExactlyTwo(t *testing.T) {
	room := testRoom(game.PhaseDay)
	kind, audience, err := Route(room, Request{Sender: sender(room, "v1"), Kind: game.MessageWhisper, RecipientID: "w2"})
	if err != nil {
		t.Fatal(err)
	}
	if kind != game.MessageWhisper || len(audience) != 2 || !slices.Contains(audience, "v1") || !slices.Contains(audience, "w2") {
		t.Fatalf("kind=%s audience=%v", kind, audience)
	}
}

func TestWhisperRejections(t *testing.T) {
	room := testRoom(game.PhaseDay)
	_, _, err := Route(room, Request{Sender: sender(room, "v1"), Kind: game.MessageWhisper, RecipientID: "nobody"})
	if !errors.Is(err, game.ErrInvalidTarget) {
		t.Errorf("unseated recipient: got %v", err)
	}
	_, _, err = Route(room, Request{Sender: sender(room, "v3"), Kind: game.MessageWhisper, RecipientID: "v1"})
	if err == nil {
		t.Error("dead to alive whisper should fail")
	}
}

func TestPublicAudienceIncludesEverySeat(t *testing.T) {
	room := testRoom(game.PhaseDay)
	kind, audience, err := Route(room, Request{Sender: sender(room, "v1"), Kind: game.MessagePublic})
	if err != nil {
		t.Fatal(err)
	}
	if kind != game.MessagePublic || len(audience) != len(room.Seats) {
		t.Fatalf("kind=%s audience=%v", kind, audience)
	}
}

func TestNightPublicChatRejectedForVillagers(t *testing.T) {
	room := testRoom(game.PhaseNight)
	for _, id := range []string{"v1", "v2"} {
		_, _, err := Route(room, Request{Sender: sender(room, id), Kind: game.MessagePublic})
		if !errors.Is(err, game.ErrAuthorization) {
			t.Errorf("%s: got %v, want authorization error", id, err)
		}
		// village has no night team chat by default
		_, _, err = Route(room, Request{Sender: sender(room, id), Kind: game.MessageTeam})
		if !errors.Is(err, game.ErrAuthorization) {
			t.Errorf("%s team chat: got %v, want authorization error", id, err)
		}
	}

	room.Settings.TeamChatPhases[game.TeamVillage] = []game.Phase{game.PhaseNight}
	_, audience, err := Route(room, Request{Sender: sender(room, "v1"), Kind: game.MessageTeam})
	if err != nil {
		t.Fatalf("village team chat with night rights: %v", err)
	}
	if slices.Contains(audience, "v3") {
		t.Error("dead seats must not receive team chat")
	}
}

func TestTeamAudienceNeverCrossesTeams(t *testing.T) {
	room := testRoom(game.PhaseNight)
	kind, audience, err := Route(room, Request{Sender: sender(room, "w1"), Kind: game.MessageTeam})
	if err != nil {
		t.Fatal(err)
	}
	if kind != game.MessageTeam {
		t.Fatalf("kind = %s", kind)
	}
	for _, id := range audience {
		if sender(room, id).Team != game.TeamWerewolf {
			t.Errorf("team message reached %s", id)
		}
	}

	room.Phase = game.PhaseDay
	if _, _, err := Route(room, Request{Sender: sender(room, "w1"), Kind: game.MessageTeam}); !errors.Is(err, game.ErrAuthorization) {
		t.Errorf("werewolf day team chat: got %v", err)
	}
}

func TestDeadSenderRoutedToDeadChat(t *testing.T) {
	room := testRoom(game.PhaseDay)
	kind, audience, err := Route(room, Request{Sender: sender(room, "v3"), Kind: game.MessagePublic})
	if err != nil {
		t.Fatal(err)
	}
	if kind != game.MessageDead || len(audience) != 1 || audience[0] != "v3" {
		t.Fatalf("kind=%s audience=%v", kind, audience)
	}
}

func TestLobbyPublicChatAtAnyTime(t *testing.T) {
	room := testRoom(game.PhaseLobby)
	room.Status = game.StatusLobby
	if _, _, err := Route(room, Request{Sender: sender(room, "v1"), Kind: game.MessagePublic}); err != nil {
		t.Fatal(err)
	}
}

func TestFilter(t *testing.T) {
	f := NewFilter([]string{"wolf", " ", "b.d"})
	out, censored := f.Apply("The WOLF is a Wolfish b.d guy, not bad")
	if !censored {
		t.Fatal("expected censoring")
	}
	if out != "The **** is a ****ish *** guy, not bad" {
		t.Fatalf("got %q", out)
	}
	if _, censored := f.Apply("clean"); censored {
		t.Error("clean text marked censored")
	}
	if out, c := NewFilter(nil).Apply("wolf"); c || out != "wolf" {
		t.Error("empty filter changed text")
	}
}
