package queues

import (
	"context"
	"time"
)

const (
	CommandSessionReady = "sessionReady"
	CommandAddServer    = "addServer"

	// TimedOutMessage is the outcome handed to a player that was not matched in time.
	TimedOutMessage = "Timed Out! Handle me graciously"
)

// PlayerArrival is published by game clients entering matchmaking.
type PlayerArrival struct {
	GUID                string `json:"guid"`
	Name                string `json:"name"`
	MatchmakingSettings string `json:"matchmakingSettings"`
}

// SessionReady tells every listed player which server hosts their session.
type SessionReady struct {
	Command         string   `json:"command"`
	GUIDs           []string `json:"guids"`
	ServerIPandPort string   `json:"serverIPandPort"`
}

type MatchStatus string

const (
	StatusMatched  MatchStatus = "Matched"
	StatusTimedOut MatchStatus = "TimedOut"
)

// MatchResult is the outcome of one match request, published for the request owner.
type MatchResult struct {
	EnvelopeVersion string      `json:"envelopeVersion"`
	Type            string      `json:"type"`
	PlayerID        string      `json:"playerId"`
	Status          MatchStatus `json:"status"`
	Outcome         string      `json:"outcome"`
}

type ServerEntry struct {
	ServerGUID      string `json:"serverguid"`
	ServerIPandPort string `json:"serveripandport"`
}

// ServerRegistration is the body of the addServer command.
type ServerRegistration struct {
	Command string        `json:"command"`
	Servers []ServerEntry `json:"servers"`
}

// Message is a transport-neutral view of one delivered queue message.
type Message struct {
	ID          string
	Data        []byte
	PublishTime time.Time
}

// BatchHandler processes a batch and reports the outcome of every item in it.
type BatchHandler func(ctx context.Context, msgs []*Message) *BatchResult

type Subscriber interface {
	Start(ctx context.Context, handler BatchHandler) error
}

type SessionReadyPublisher interface {
	PublishSessionReady(ctx context.Context, msg *SessionReady) error
}

type ResultPublisher interface {
	PublishResult(ctx context.Context, res *MatchResult) error
}
