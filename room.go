// Room state and the command state machine.
//
// A Room is the single authoritative record for one session. Every method
// that mutates it is called from exactly one place, the owning hub's run
// loop, so commands for a room are serialized and no field-level locking
// is needed. On any returned error the room is left untouched.

package main

import (
	"fmt"
	"time"
)

const (
	statusLobby    = "lobby"
	statusAssigned = "assigned"
)

// participant persists for the life of the room once created. Disconnects
// never remove it, so a returning client with the same id picks up its
// name, host flag, and dealt role.
type participant struct {
	id       string
	name     string
	isHost   bool
	isReady  bool
	joinedAt time.Time
	role     RoleKey
}

type Room struct {
	id           string
	status       string
	hostID       string
	participants []*participant // join order, which is also deal order
	quota        map[RoleKey]int

	createdAt  time.Time
	assignedAt time.Time
}

func newRoom(roomID string) *Room {
	return &Room{
		id:        roomID,
		status:    statusLobby,
		quota:     make(map[RoleKey]int),
		createdAt: time.Now(),
	}
}

func (r *Room) participantByID(id string) *participant {
	for _, p := range r.participants {
		if p.id == id {
			return p
		}
	}
	return nil
}

func (r *Room) hostCalling(callerID string) bool {
	p := r.participantByID(callerID)
	return p != nil && p.isHost
}

// join creates a participant on first sight of clientID; the first
// participant ever created becomes host. Re-joining with a known id
// mutates nothing, so a reconnect keeps name, ready flag, and role.
// Returns whether a new participant was created.
func (r *Room) join(clientID string, now time.Time) (bool, error) {
	if clientID == "" {
		return false, errMissingIdentity
	}

	if r.participantByID(clientID) != nil {
		return false, nil
	}

	p := &participant{
		id:       clientID,
		name:     fmt.Sprintf("Player %d", len(r.participants)+1),
		isHost:   len(r.participants) == 0,
		joinedAt: now,
	}
	r.participants = append(r.participants, p)

	if p.isHost {
		r.hostID = p.id
	}

	return true, nil
}

func (r *Room) setRoleCount(callerID string, key RoleKey, count int) error {
	if !r.hostCalling(callerID) {
		return errNotAuthorized
	}
	if r.status != statusLobby {
		return errAlreadyAssigned
	}
	if !validRoleKey(key) {
		return errUnknownRole
	}

	// Out-of-range counts are clamped rather than rejected.
	if count < 0 {
		count = 0
	}
	if count > maxRoleCount {
		count = maxRoleCount
	}

	r.quota[key] = count

	return nil
}

func (r *Room) setName(callerID, name string) error {
	p := r.participantByID(callerID)
	if p == nil {
		return errNotJoined
	}
	p.name = name
	return nil
}

func (r *Room) setReady(callerID string, ready bool) error {
	p := r.participantByID(callerID)
	if p == nil {
		return errNotJoined
	}
	p.isReady = ready
	return nil
}

// assignRoles deals the shuffled deck across eligible participants in
// join order. With readyCheck off every known participant is eligible;
// with it on, only ready participants are, and at least one must be.
// Shuffling the deck is the sole source of assignment randomness.
func (r *Room) assignRoles(callerID string, readyCheck bool, src intSource, now time.Time) error {
	if !r.hostCalling(callerID) {
		return errNotAuthorized
	}

	eligible := r.participants
	if readyCheck {
		eligible = make([]*participant, 0, len(r.participants))
		for _, p := range r.participants {
			if p.isReady {
				eligible = append(eligible, p)
			}
		}
		if len(eligible) == 0 {
			return errNoReadyPlayers
		}
	}

	// The quota comparison runs before the status guard: a retried deal
	// after a late join must report the mismatch, not the stale status.
	deck := buildDeck(r.quota)
	if len(deck) != len(eligible) {
		return errQuotaMismatch
	}

	if r.status != statusLobby {
		return errAlreadyAssigned
	}

	dealt := shuffle(deck, src)
	for i, p := range eligible {
		p.role = dealt[i]
	}

	r.status = statusAssigned
	r.assignedAt = now

	return nil
}

// reset returns the room to the lobby, clearing every dealt role but
// preserving participants, names, ready flags, and the host. Calling it
// in the lobby is a harmless no-op.
func (r *Room) reset(callerID string) error {
	if !r.hostCalling(callerID) {
		return errNotAuthorized
	}

	for _, p := range r.participants {
		p.role = ""
	}
	r.status = statusLobby
	r.assignedAt = time.Time{}

	return nil
}

// project builds the snapshot sent to one viewer. Every role except the
// viewer's own is redacted; an empty viewerID redacts all of them. The
// catalog and quota are included for every viewer.
func (r *Room) project(viewerID string) projectedState {
	players := make(map[string]projectedPlayer, len(r.participants))
	for _, p := range r.participants {
		pp := projectedPlayer{
			ID:       p.id,
			Name:     p.name,
			IsHost:   p.isHost,
			IsReady:  p.isReady,
			JoinedAt: p.joinedAt,
		}
		if p.id == viewerID {
			pp.RoleKey = p.role
		}
		players[p.id] = pp
	}

	quota := make(map[RoleKey]int, len(r.quota))
	for key, count := range r.quota {
		quota[key] = count
	}

	var assignedAt *time.Time
	if !r.assignedAt.IsZero() {
		at := r.assignedAt
		assignedAt = &at
	}

	return projectedState{
		RoomID:       r.id,
		HostID:       r.hostID,
		Status:       r.status,
		Players:      players,
		RoleConfig:   quota,
		AssignedAt:   assignedAt,
		RolesCatalog: roleCatalog,
	}
}

// Debug summary for the read-only side channel. Carries no dealt roles.

type summaryPlayer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

type roomSummary struct {
	RoomID     string          `json:"roomId"`
	Status     string          `json:"status"`
	Players    []summaryPlayer `json:"players"`
	RoleConfig map[RoleKey]int `json:"roleConfig"`
	TotalRoles int             `json:"totalRoles"`
}

func (r *Room) summary() roomSummary {
	players := make([]summaryPlayer, 0, len(r.participants))
	for _, p := range r.participants {
		players = append(players, summaryPlayer{
			ID:     p.id,
			Name:   p.name,
			IsHost: p.isHost,
		})
	}

	quota := make(map[RoleKey]int, len(r.quota))
	total := 0
	for key, count := range r.quota {
		quota[key] = count
		total += count
	}

	return roomSummary{
		RoomID:     r.id,
		Status:     r.status,
		Players:    players,
		RoleConfig: quota,
		TotalRoles: total,
	}
}
