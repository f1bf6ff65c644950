package store

import "fmt"

// Key layout shared with the server registration tooling.
const (
	ServersHash               = "Servers"
	ServersAvailableSet       = "ServersAvailable"
	PlayerHash                = "Player"
	PlayerTimestampsSortedSet = "PlayersTimeStartedMatchmaking"
	SessionHash               = "Session"
	SessionPlayersSet         = "SessionPlayers"
	SessionsReadySet          = "SessionsReady"
	SessionsPerMatchmakingSet = "SessionsPerMatchmaking"
	SessionTimestampsSorted   = "SessionsCreationTime"
	SweepLeaseKey             = "matchmaker:sweep-lease"

	GUIDField                = "GUID"
	NameField                = "Name"
	CapacityField            = "Capacity"
	MatchmakingSettingsField = "MatchmakingSettings"
	SessionField             = "Session"
)

func playerKey(guid string) string         { return fmt.Sprintf("%s:%s", PlayerHash, guid) }
func sessionKey(guid string) string        { return fmt.Sprintf("%s:%s", SessionHash, guid) }
func sessionPlayersKey(guid string) string { return fmt.Sprintf("%s:%s", SessionPlayersSet, guid) }
func bucketKey(tag string) string          { return fmt.Sprintf("%s:%s", SessionsPerMatchmakingSet, tag) }
