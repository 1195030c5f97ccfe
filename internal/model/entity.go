package model

// Entity is one connected player's simulated body. The authoritative copy
// lives in the server's world; the client keeps a predicted copy of its own
// entity only.
type Entity struct {
	ID                 string `json:"id"`
	Position           Vec2   `json:"position"`
	Velocity           Vec2   `json:"velocity"`
	LastProcessedInput uint64 `json:"lastProcessedInput"`
}
