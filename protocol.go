package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Inbound wire shape. One struct covers every command type; decodeCommand
// narrows it into exactly one typed command or fails.
type clientMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId,omitempty"`
	RoleKey  string `json:"roleKey,omitempty"`
	Count    *int   `json:"count,omitempty"`
	Name     string `json:"name,omitempty"`
	Ready    *bool  `json:"ready,omitempty"`
}

type command interface {
	isCommand()
}

type joinCmd struct {
	clientID string
}

type setRoleCountCmd struct {
	key   RoleKey
	count int
}

type assignRolesCmd struct{}

type resetCmd struct{}

type requestStateCmd struct{}

// Only valid when the server runs with --ready-check.
type setNameCmd struct {
	name string
}

type setReadyCmd struct {
	ready bool
}

func (joinCmd) isCommand()         {}
func (setRoleCountCmd) isCommand() {}
func (assignRolesCmd) isCommand()  {}
func (resetCmd) isCommand()        {}
func (requestStateCmd) isCommand() {}
func (setNameCmd) isCommand()      {}
func (setReadyCmd) isCommand()     {}

const maxNameLength = 32

// decodeCommand parses raw client bytes into one typed command. readyCheck
// widens the accepted set with setName/setReady; with it off those are
// schema violations like any other unknown shape.
func decodeCommand(raw []byte, readyCheck bool) (command, error) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, errMalformedInput
	}

	switch msg.Type {
	case "join":
		if msg.ClientID == "" {
			return nil, errMissingIdentity
		}
		return joinCmd{clientID: msg.ClientID}, nil

	case "setRoleCount":
		if msg.RoleKey == "" {
			return nil, fmt.Errorf("%w: setRoleCount requires a roleKey", errSchemaViolation)
		}
		if msg.Count == nil {
			return nil, fmt.Errorf("%w: setRoleCount requires a count", errSchemaViolation)
		}
		return setRoleCountCmd{key: RoleKey(msg.RoleKey), count: *msg.Count}, nil

	case "assignRoles":
		return assignRolesCmd{}, nil

	case "reset":
		return resetCmd{}, nil

	case "requestState":
		return requestStateCmd{}, nil

	case "setName":
		if !readyCheck {
			return nil, fmt.Errorf("%w: setName is not enabled on this server", errSchemaViolation)
		}
		name := strings.TrimSpace(msg.Name)
		if name == "" || len(name) > maxNameLength {
			return nil, fmt.Errorf("%w: setName requires a name of 1-%d characters", errSchemaViolation, maxNameLength)
		}
		return setNameCmd{name: name}, nil

	case "setReady":
		if !readyCheck {
			return nil, fmt.Errorf("%w: setReady is not enabled on this server", errSchemaViolation)
		}
		if msg.Ready == nil {
			return nil, fmt.Errorf("%w: setReady requires a ready flag", errSchemaViolation)
		}
		return setReadyCmd{ready: *msg.Ready}, nil

	default:
		return nil, fmt.Errorf("%w: %q", errSchemaViolation, msg.Type)
	}
}

// Outbound wire shapes.

type errorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

type stateMessage struct {
	Type  string         `json:"type"` // "state"
	State projectedState `json:"state"`
}

// projectedPlayer is a participant as seen by one viewer: RoleKey is only
// populated on the viewer's own entry.
type projectedPlayer struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	IsHost   bool      `json:"isHost"`
	IsReady  bool      `json:"isReady"`
	JoinedAt time.Time `json:"joinedAt"`
	RoleKey  RoleKey   `json:"roleKey,omitempty"`
}

// projectedState is the per-viewer room snapshot sent on every broadcast.
// The quota and catalog are never secret; role assignments are redacted
// for everyone but the viewer.
type projectedState struct {
	RoomID       string                     `json:"roomId"`
	HostID       string                     `json:"hostId,omitempty"`
	Status       string                     `json:"status"`
	Players      map[string]projectedPlayer `json:"players"`
	RoleConfig   map[RoleKey]int            `json:"roleConfig"`
	AssignedAt   *time.Time                 `json:"assignedAt,omitempty"`
	RolesCatalog []RoleSpec                 `json:"rolesCatalog"`
}

func newErrorMessage(err error) errorMessage {
	return errorMessage{
		Type:    "error",
		Message: err.Error(),
	}
}
