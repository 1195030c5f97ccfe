package protocol

import (
	"encoding/json"

	"statesync/internal/model"
)

type MessageType string

const (
	TypeConnected  MessageType = "connected"
	TypeInput      MessageType = "input"
	TypeState      MessageType = "state"
	TypePing       MessageType = "ping"
	TypePong       MessageType = "pong"
	TypePlayerLeft MessageType = "playerLeft"
)

// Message is the envelope for every frame on the wire.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Connected is the server's hello: the identifier assigned to the connection
// and the initial state of its entity.
type Connected struct {
	ClientID string       `json:"clientId"`
	Entity   model.Entity `json:"entity"`
}

// Input is one client intention for one simulation step. Movement is a
// pointer so a missing vector is distinguishable from a zero one. SentAt is
// the client clock in unix milliseconds and is advisory only; the server
// never uses it for ordering.
type Input struct {
	Sequence uint64      `json:"sequence"`
	Movement *model.Vec2 `json:"movement"`
	DT       float64     `json:"dt"`
	SentAt   int64       `json:"sentAt"`
}

// EntityState is one entity's slice of a snapshot.
type EntityState struct {
	ID                 string     `json:"id"`
	Position           model.Vec2 `json:"position"`
	Velocity           model.Vec2 `json:"velocity"`
	LastProcessedInput uint64     `json:"lastProcessedInput"`
}

// State is the authoritative world snapshot broadcast each tick.
type State struct {
	Timestamp int64         `json:"timestamp"`
	Entities  []EntityState `json:"entities"`
}

type Ping struct {
	SentAt int64 `json:"sentAt"`
}

type Pong struct {
	SentAt int64 `json:"sentAt"`
}

type PlayerLeft struct {
	ClientID string `json:"clientId"`
}

// Encode wraps a payload in the message envelope and marshals it.
func Encode(t MessageType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: t, Data: data})
}
