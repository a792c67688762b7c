package main

import (
	"errors"
	mathrand "math/rand"
	"testing"
	"time"
)

func testSource() intSource {
	return mathrand.New(mathrand.NewSource(1))
}

func joinAll(t *testing.T, r *Room, base time.Time, ids ...string) {
	t.Helper()
	for i, id := range ids {
		if _, err := r.join(id, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("join %q: %v", id, err)
		}
	}
}

func TestJoinHostElection(t *testing.T) {
	r := newRoom("test")
	joinAll(t, r, time.Now(), "p1", "p2", "p3")

	hosts := 0
	for _, p := range r.participants {
		if p.isHost {
			hosts++
		}
	}
	if hosts != 1 {
		t.Fatalf("expected exactly one host, got %d", hosts)
	}
	if r.hostID != "p1" {
		t.Fatalf("expected first joiner to host, got %q", r.hostID)
	}
	if !r.participantByID("p1").isHost {
		t.Fatal("expected hostID to reference the host participant")
	}
}

func TestJoinIdempotent(t *testing.T) {
	r := newRoom("test")
	first := time.Now()

	created, err := r.join("p1", first)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if !created {
		t.Fatal("expected first join to create a participant")
	}

	p := r.participantByID("p1")
	p.name = "Ada"

	created, err = r.join("p1", first.Add(time.Minute))
	if err != nil {
		t.Fatalf("re-join: %v", err)
	}
	if created {
		t.Fatal("expected re-join to create nothing")
	}

	if p.joinedAt != first {
		t.Fatal("expected joinedAt to survive re-join")
	}
	if p.name != "Ada" {
		t.Fatalf("expected name to survive re-join, got %q", p.name)
	}
	if !p.isHost {
		t.Fatal("expected host flag to survive re-join")
	}
	if len(r.participants) != 1 {
		t.Fatalf("expected one participant, got %d", len(r.participants))
	}
}

func TestJoinMissingIdentity(t *testing.T) {
	r := newRoom("test")
	if _, err := r.join("", time.Now()); !errors.Is(err, errMissingIdentity) {
		t.Fatalf("expected errMissingIdentity, got %v", err)
	}
}

func TestSetRoleCountClamp(t *testing.T) {
	r := newRoom("test")
	joinAll(t, r, time.Now(), "p1")

	if err := r.setRoleCount("p1", RoleCrew, 150); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}
	if r.quota[RoleCrew] != maxRoleCount {
		t.Fatalf("expected count clamped to %d, got %d", maxRoleCount, r.quota[RoleCrew])
	}

	if err := r.setRoleCount("p1", RoleCrew, -5); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}
	if r.quota[RoleCrew] != 0 {
		t.Fatalf("expected count clamped to 0, got %d", r.quota[RoleCrew])
	}
}

func TestSetRoleCountUnknownRole(t *testing.T) {
	r := newRoom("test")
	joinAll(t, r, time.Now(), "p1")

	if err := r.setRoleCount("p1", "jester", 1); !errors.Is(err, errUnknownRole) {
		t.Fatalf("expected errUnknownRole, got %v", err)
	}
}

func TestSetRoleCountNotAuthorized(t *testing.T) {
	r := newRoom("test")
	joinAll(t, r, time.Now(), "p1", "p2")

	if err := r.setRoleCount("p2", RoleCrew, 2); !errors.Is(err, errNotAuthorized) {
		t.Fatalf("expected errNotAuthorized, got %v", err)
	}
	if r.quota[RoleCrew] != 0 {
		t.Fatalf("expected quota unchanged, got %d", r.quota[RoleCrew])
	}
}

func TestAssignRolesDealsByJoinOrder(t *testing.T) {
	r := newRoom("test")
	joinAll(t, r, time.Now(), "p1", "p2")

	if err := r.setRoleCount("p1", RoleTraitor, 1); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}
	if err := r.setRoleCount("p1", RoleSleuth, 1); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}
	if err := r.setRoleCount("p1", RoleCrew, 0); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}

	now := time.Now()
	if err := r.assignRoles("p1", false, testSource(), now); err != nil {
		t.Fatalf("assignRoles: %v", err)
	}

	if r.status != statusAssigned {
		t.Fatalf("expected status %q, got %q", statusAssigned, r.status)
	}
	if r.assignedAt != now {
		t.Fatal("expected assignedAt to be set")
	}

	p1 := r.participantByID("p1").role
	p2 := r.participantByID("p2").role
	if p1 == p2 {
		t.Fatalf("expected distinct roles, both got %q", p1)
	}
	for _, role := range []RoleKey{p1, p2} {
		if role != RoleTraitor && role != RoleSleuth {
			t.Fatalf("expected a configured role, got %q", role)
		}
	}
}

func TestAssignRolesQuotaMismatch(t *testing.T) {
	r := newRoom("test")
	joinAll(t, r, time.Now(), "p1", "p2")

	if err := r.setRoleCount("p1", RoleTraitor, 1); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}
	if err := r.setRoleCount("p1", RoleSleuth, 1); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}

	if err := r.assignRoles("p1", false, testSource(), time.Now()); err != nil {
		t.Fatalf("assignRoles: %v", err)
	}

	// A third player joins after the deal; retrying now has 2 roles
	// configured for 3 players.
	joinAll(t, r, time.Now(), "p3")

	if err := r.assignRoles("p1", false, testSource(), time.Now()); !errors.Is(err, errQuotaMismatch) {
		t.Fatalf("expected errQuotaMismatch, got %v", err)
	}
	if r.participantByID("p3").role != "" {
		t.Fatal("expected failed deal to leave p3 without a role")
	}
}

func TestAssignRolesTwiceWithoutReset(t *testing.T) {
	r := newRoom("test")
	joinAll(t, r, time.Now(), "p1")

	if err := r.setRoleCount("p1", RoleTraitor, 1); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}
	if err := r.assignRoles("p1", false, testSource(), time.Now()); err != nil {
		t.Fatalf("assignRoles: %v", err)
	}

	if err := r.assignRoles("p1", false, testSource(), time.Now()); !errors.Is(err, errAlreadyAssigned) {
		t.Fatalf("expected errAlreadyAssigned, got %v", err)
	}
	if err := r.setRoleCount("p1", RoleCrew, 1); !errors.Is(err, errAlreadyAssigned) {
		t.Fatalf("expected errAlreadyAssigned, got %v", err)
	}
}

func TestAssignRolesNotAuthorized(t *testing.T) {
	r := newRoom("test")
	joinAll(t, r, time.Now(), "p1", "p2")

	if err := r.assignRoles("p2", false, testSource(), time.Now()); !errors.Is(err, errNotAuthorized) {
		t.Fatalf("expected errNotAuthorized, got %v", err)
	}
	if r.status != statusLobby {
		t.Fatalf("expected status unchanged, got %q", r.status)
	}
}

func TestResetRoundTrip(t *testing.T) {
	r := newRoom("test")
	joinAll(t, r, time.Now(), "p1", "p2")

	if err := r.setRoleCount("p1", RoleTraitor, 1); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}
	if err := r.setRoleCount("p1", RoleSleuth, 1); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}
	if err := r.assignRoles("p1", false, testSource(), time.Now()); err != nil {
		t.Fatalf("assignRoles: %v", err)
	}

	if err := r.reset("p2"); !errors.Is(err, errNotAuthorized) {
		t.Fatalf("expected errNotAuthorized, got %v", err)
	}

	if err := r.reset("p1"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if r.status != statusLobby {
		t.Fatalf("expected status %q, got %q", statusLobby, r.status)
	}
	if !r.assignedAt.IsZero() {
		t.Fatal("expected assignedAt cleared")
	}
	for _, p := range r.participants {
		if p.role != "" {
			t.Fatalf("expected role cleared for %q, got %q", p.id, p.role)
		}
	}
	if r.hostID != "p1" || !r.participantByID("p1").isHost {
		t.Fatal("expected host preserved across reset")
	}
	if len(r.participants) != 2 {
		t.Fatalf("expected participants preserved, got %d", len(r.participants))
	}
}

func TestResetInLobbyIsNoop(t *testing.T) {
	r := newRoom("test")
	joinAll(t, r, time.Now(), "p1")

	if err := r.reset("p1"); err != nil {
		t.Fatalf("reset in lobby: %v", err)
	}
	if r.status != statusLobby {
		t.Fatalf("expected status %q, got %q", statusLobby, r.status)
	}
}

func TestProjectionRedaction(t *testing.T) {
	r := newRoom("test")
	joinAll(t, r, time.Now(), "p1", "p2")

	if err := r.setRoleCount("p1", RoleTraitor, 1); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}
	if err := r.setRoleCount("p1", RoleSleuth, 1); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}
	if err := r.assignRoles("p1", false, testSource(), time.Now()); err != nil {
		t.Fatalf("assignRoles: %v", err)
	}

	view := r.project("p1")
	if view.Players["p1"].RoleKey != r.participantByID("p1").role {
		t.Fatal("expected viewer to see their own role")
	}
	if view.Players["p2"].RoleKey != "" {
		t.Fatalf("expected p2's role redacted, got %q", view.Players["p2"].RoleKey)
	}

	anonymous := r.project("")
	for id, p := range anonymous.Players {
		if p.RoleKey != "" {
			t.Fatalf("expected all roles redacted for anonymous viewer, %q leaked %q", id, p.RoleKey)
		}
	}

	if len(view.RolesCatalog) != len(roleCatalog) {
		t.Fatal("expected catalog in every projection")
	}
	if view.RoleConfig[RoleTraitor] != 1 || view.RoleConfig[RoleSleuth] != 1 {
		t.Fatal("expected full quota in every projection")
	}
	if view.Status != statusAssigned {
		t.Fatalf("expected status %q, got %q", statusAssigned, view.Status)
	}
	if view.AssignedAt == nil {
		t.Fatal("expected assignedAt in projection after deal")
	}
}

func TestProjectionQuotaIsACopy(t *testing.T) {
	r := newRoom("test")
	joinAll(t, r, time.Now(), "p1")

	if err := r.setRoleCount("p1", RoleCrew, 3); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}

	view := r.project("p1")
	view.RoleConfig[RoleCrew] = 50

	if r.quota[RoleCrew] != 3 {
		t.Fatalf("expected room quota untouched, got %d", r.quota[RoleCrew])
	}
}

func TestReadyCheckGatesEligibility(t *testing.T) {
	r := newRoom("test")
	joinAll(t, r, time.Now(), "p1", "p2", "p3")

	if err := r.setRoleCount("p1", RoleTraitor, 1); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}
	if err := r.setRoleCount("p1", RoleSleuth, 1); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}

	if err := r.assignRoles("p1", true, testSource(), time.Now()); !errors.Is(err, errNoReadyPlayers) {
		t.Fatalf("expected errNoReadyPlayers, got %v", err)
	}

	if err := r.setReady("p1", true); err != nil {
		t.Fatalf("setReady: %v", err)
	}
	if err := r.assignRoles("p1", true, testSource(), time.Now()); !errors.Is(err, errQuotaMismatch) {
		t.Fatalf("expected errQuotaMismatch with one ready player, got %v", err)
	}

	if err := r.setReady("p2", true); err != nil {
		t.Fatalf("setReady: %v", err)
	}
	if err := r.assignRoles("p1", true, testSource(), time.Now()); err != nil {
		t.Fatalf("assignRoles: %v", err)
	}

	if r.participantByID("p1").role == "" || r.participantByID("p2").role == "" {
		t.Fatal("expected ready players to receive roles")
	}
	if r.participantByID("p3").role != "" {
		t.Fatalf("expected unready player to receive no role, got %q", r.participantByID("p3").role)
	}
}

func TestSetNameAndReadyRequireJoin(t *testing.T) {
	r := newRoom("test")

	if err := r.setName("ghost", "Ada"); !errors.Is(err, errNotJoined) {
		t.Fatalf("expected errNotJoined, got %v", err)
	}
	if err := r.setReady("ghost", true); !errors.Is(err, errNotJoined) {
		t.Fatalf("expected errNotJoined, got %v", err)
	}
}

func TestSummaryCarriesNoRoles(t *testing.T) {
	r := newRoom("test")
	joinAll(t, r, time.Now(), "p1", "p2")

	if err := r.setRoleCount("p1", RoleTraitor, 1); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}
	if err := r.setRoleCount("p1", RoleSleuth, 1); err != nil {
		t.Fatalf("setRoleCount: %v", err)
	}
	if err := r.assignRoles("p1", false, testSource(), time.Now()); err != nil {
		t.Fatalf("assignRoles: %v", err)
	}

	summary := r.summary()

	if summary.RoomID != "test" || summary.Status != statusAssigned {
		t.Fatalf("unexpected summary header: %+v", summary)
	}
	if len(summary.Players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(summary.Players))
	}
	if summary.TotalRoles != 2 {
		t.Fatalf("expected 2 total roles, got %d", summary.TotalRoles)
	}
	if !summary.Players[0].IsHost || summary.Players[1].IsHost {
		t.Fatal("expected host flag on the first joiner only")
	}
}
