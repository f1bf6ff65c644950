package store

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// ErrUnknownServer is returned when a pooled server has no registry entry.
var ErrUnknownServer = errors.New("server missing from registry")

type Player struct {
	GUID                string
	Name                string
	MatchmakingSettings string
}

type Session struct {
	GUID                string
	Capacity            int
	MatchmakingSettings string
}

// Attachment describes where AttachPlayer seated a player.
type Attachment struct {
	SessionID   string
	Remaining   int
	Created     bool
	Ready       bool
	Redelivered bool
}

type Stats struct {
	ReadySessions    int64
	AvailableServers int64
	WaitingPlayers   int64
}

// Store is the matchmaking view of the shared redis instance. It holds no
// state of its own; every call goes to redis.
type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Connect parses a redis URL (or a bare host:port) and returns a client.
func Connect(conn string) (*redis.Client, error) {
	if !strings.Contains(conn, "://") {
		return redis.NewClient(&redis.Options{Addr: conn}), nil
	}
	opts, err := redis.ParseURL(conn)
	if err != nil {
		return nil, eris.Wrap(err, "parse redis connection string")
	}
	return redis.NewClient(opts), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return eris.Wrap(s.client.Ping(ctx).Err(), "ping redis")
}

// AttachPlayer records the player and seats it in a session of its tag. When
// no open session exists one is created with newSessionID and the given
// capacity.
func (s *Store) AttachPlayer(ctx context.Context, p Player, newSessionID string, capacity int, now time.Time) (*Attachment, error) {
	keys := []string{
		playerKey(p.GUID),
		PlayerTimestampsSortedSet,
		bucketKey(p.MatchmakingSettings),
		SessionsReadySet,
		SessionTimestampsSorted,
	}
	args := []any{
		p.GUID,
		p.Name,
		p.MatchmakingSettings,
		newSessionID,
		capacity,
		now.Unix(),
		SessionHash + ":",
		SessionPlayersSet + ":",
	}
	res, err := attachScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return nil, eris.Wrapf(err, "attach player %s", p.GUID)
	}
	if len(res) != 4 {
		return nil, eris.Errorf("attach player %s: unexpected script reply %v", p.GUID, res)
	}
	sid, _ := res[0].(string)
	remaining, _ := res[1].(int64)
	created, _ := res[2].(int64)
	redelivered, _ := res[3].(int64)
	return &Attachment{
		SessionID:   sid,
		Remaining:   int(remaining),
		Created:     created == 1,
		Ready:       remaining <= 0,
		Redelivered: redelivered == 1,
	}, nil
}

// FlushPlayer removes the player record and its matchmaking timestamp.
func (s *Store) FlushPlayer(ctx context.Context, guid string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, playerKey(guid))
		pipe.ZRem(ctx, PlayerTimestampsSortedSet, guid)
		return nil
	})
	return eris.Wrapf(err, "flush player %s", guid)
}

// FlushSession removes a session from the ready set, its tag bucket, the
// creation index and deletes its hash and member set. It reports whether
// anything was removed; flushing a missing session is not an error.
func (s *Store) FlushSession(ctx context.Context, sessionID string) (bool, error) {
	keys := []string{SessionsReadySet, SessionTimestampsSorted}
	n, err := flushSessionScript.Run(ctx, s.client, keys,
		sessionID,
		SessionHash+":",
		SessionPlayersSet+":",
		SessionsPerMatchmakingSet+":",
	).Int64()
	if err != nil {
		return false, eris.Wrapf(err, "flush session %s", sessionID)
	}
	return n > 0, nil
}

func (s *Store) Session(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "read session %s", sessionID)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	capacity, _ := strconv.Atoi(fields[CapacityField])
	return &Session{
		GUID:                fields[GUIDField],
		Capacity:            capacity,
		MatchmakingSettings: fields[MatchmakingSettingsField],
	}, nil
}

func (s *Store) ReadySessions(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.SScan(ctx, SessionsReadySet, 0, "", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "scan ready sessions")
	}
	return ids, nil
}

func (s *Store) SessionPlayers(ctx context.Context, sessionID string) ([]string, error) {
	players, err := s.client.SMembers(ctx, sessionPlayersKey(sessionID)).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "read players of session %s", sessionID)
	}
	sort.Strings(players)
	return players, nil
}

// PopServer takes one server out of the available pool. ok is false when the
// pool is empty.
func (s *Store) PopServer(ctx context.Context) (id string, addr string, ok bool, err error) {
	id, err = s.client.SPop(ctx, ServersAvailableSet).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, eris.Wrap(err, "pop available server")
	}
	addr, err = s.client.HGet(ctx, ServersHash, id).Result()
	if errors.Is(err, redis.Nil) {
		return id, "", true, eris.Wrapf(ErrUnknownServer, "server %s", id)
	}
	if err != nil {
		return id, "", true, eris.Wrapf(err, "read address of server %s", id)
	}
	return id, addr, true, nil
}

// ReleaseServer puts a popped server back into the available pool.
func (s *Store) ReleaseServer(ctx context.Context, id string) error {
	return eris.Wrapf(s.client.SAdd(ctx, ServersAvailableSet, id).Err(), "release server %s", id)
}

func (s *Store) RegisterServer(ctx context.Context, id, addr string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, ServersHash, id, addr)
		pipe.SAdd(ctx, ServersAvailableSet, id)
		return nil
	})
	return eris.Wrapf(err, "register server %s", id)
}

// RegisterServerIfNew pools a server only the first time it is seen, so a
// server that was already handed out is not offered again.
func (s *Store) RegisterServerIfNew(ctx context.Context, id, addr string) (bool, error) {
	added, err := s.client.HSetNX(ctx, ServersHash, id, addr).Result()
	if err != nil {
		return false, eris.Wrapf(err, "register server %s", id)
	}
	if !added {
		return false, nil
	}
	if err := s.client.SAdd(ctx, ServersAvailableSet, id).Err(); err != nil {
		return false, eris.Wrapf(err, "pool server %s", id)
	}
	return true, nil
}

func (s *Store) AcquireSweepLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, SweepLeaseKey, owner, ttl).Result()
	return ok, eris.Wrap(err, "acquire sweep lease")
}

func (s *Store) ReleaseSweepLease(ctx context.Context, owner string) error {
	return eris.Wrap(releaseLeaseScript.Run(ctx, s.client, []string{SweepLeaseKey}, owner).Err(), "release sweep lease")
}

// StalePlayers lists players that started matchmaking before the given time.
func (s *Store) StalePlayers(ctx context.Context, before time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, PlayerTimestampsSortedSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.Unix(), 10),
	}).Result()
	return ids, eris.Wrap(err, "list stale players")
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var ready, available, waiting *redis.IntCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		ready = pipe.SCard(ctx, SessionsReadySet)
		available = pipe.SCard(ctx, ServersAvailableSet)
		waiting = pipe.ZCard(ctx, PlayerTimestampsSortedSet)
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "read store stats")
	}
	return &Stats{
		ReadySessions:    ready.Val(),
		AvailableServers: available.Val(),
		WaitingPlayers:   waiting.Val(),
	}, nil
}
