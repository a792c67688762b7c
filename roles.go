// Partydeal role catalog and deck builder.
//
// The catalog is fixed at compile time and identical for every room. The
// host configures how many of each role to deal; buildDeck expands that
// quota into a deck in catalog order, and shuffle permutes a copy of it
// with an unbiased Fisher-Yates. The random source is injectable so tests
// can seed the shuffle.

package main

import (
	"crypto/rand"
	"log"
	"math/big"
)

type RoleKey string

const (
	RoleCrew    RoleKey = "crew"
	RoleMedic   RoleKey = "medic"
	RoleSleuth  RoleKey = "sleuth"
	RoleTraitor RoleKey = "traitor"
)

// Per-role count limit. Counts above it are clamped, not rejected.
const maxRoleCount = 99

// EffectScope describes who a role's ability acts on: the holder only,
// holders of specific other roles, or the whole room.
type EffectScope struct {
	Kind    string    `json:"kind"` // "self", "targets", or "global"
	Targets []RoleKey `json:"targets,omitempty"`
}

type RoleSpec struct {
	Key         RoleKey     `json:"key"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	EffectScope EffectScope `json:"effectScope"`
}

// roleCatalog order is the deck order before shuffling and the display
// order on clients.
var roleCatalog = []RoleSpec{
	{
		Key:         RoleCrew,
		Name:        "Crew",
		Description: "No special ability. Survive and vote wisely.",
		EffectScope: EffectScope{Kind: "self"},
	},
	{
		Key:         RoleMedic,
		Name:        "Medic",
		Description: "Each round, protect one crew member or sleuth from elimination.",
		EffectScope: EffectScope{Kind: "targets", Targets: []RoleKey{RoleCrew, RoleSleuth}},
	},
	{
		Key:         RoleSleuth,
		Name:        "Sleuth",
		Description: "Each round, learn whether one player is a traitor.",
		EffectScope: EffectScope{Kind: "targets", Targets: []RoleKey{RoleTraitor}},
	},
	{
		Key:         RoleTraitor,
		Name:        "Traitor",
		Description: "Work against the room. Eliminate one player each round.",
		EffectScope: EffectScope{Kind: "global"},
	},
}

func validRoleKey(key RoleKey) bool {
	for _, spec := range roleCatalog {
		if spec.Key == key {
			return true
		}
	}
	return false
}

// buildDeck expands a quota into a deck of role keys, one entry per
// configured slot, in catalog order. Keys absent from the quota
// contribute nothing.
func buildDeck(quota map[RoleKey]int) []RoleKey {
	deck := make([]RoleKey, 0)
	for _, spec := range roleCatalog {
		for i := 0; i < quota[spec.Key]; i++ {
			deck = append(deck, spec.Key)
		}
	}
	return deck
}

// intSource yields uniform ints in [0, n). Satisfied by *math/rand.Rand,
// which tests use for deterministic shuffles.
type intSource interface {
	Intn(n int) int
}

// cryptoSource draws uniform ints from crypto/rand.
type cryptoSource struct{}

func (cryptoSource) Intn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		log.Panicf("crypto/rand failure: %v", err)
	}
	return int(v.Int64())
}

// shuffle returns a Fisher-Yates permutation of deck. The input slice is
// left untouched.
func shuffle(deck []RoleKey, src intSource) []RoleKey {
	out := make([]RoleKey, len(deck))
	copy(out, deck)

	for i := len(out) - 1; i > 0; i-- {
		j := src.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}

	return out
}
