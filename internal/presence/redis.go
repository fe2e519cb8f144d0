package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"whiteboard-backend/internal/model"
)

// EventType 보드 상태 변경 이벤트 종류
type EventType string

const (
	EventOpened EventType = "opened"
	EventClosed EventType = "closed"
	EventRoster EventType = "roster"
)

// Member Redis 에 저장될 접속자 정보
type Member struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	UserID        *int64 `json:"userId,omitempty"`
}

// Event 상태 변경 이벤트 (pub/sub 채널로 발행)
type Event struct {
	Type     EventType     `json:"type"`
	BoardID  model.BoardID `json:"boardId"`
	Count    int           `json:"count"`
	ServerID string        `json:"serverId"`
	At       int64         `json:"at"`
}

type update struct {
	kind    EventType
	board   model.BoardID
	members []Member
}

// Tracker 보드별 접속자를 Redis 에 기록하는 hub.Observer.
// 옵저버 호출은 큐에만 넣고 반환하며, Redis 쓰기는 워커 고루틴 하나가 순서대로 처리한다.
type Tracker struct {
	client   *redis.Client
	prefix   string
	serverID string
	ttl      time.Duration
	log      zerolog.Logger

	updates chan update
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once

	dropped atomic.Uint64
}

// NewTracker 생성자. 워커가 바로 시작된다.
func NewTracker(client *redis.Client, prefix, serverID string, ttl time.Duration, log zerolog.Logger) *Tracker {
	if prefix == "" {
		prefix = "whiteboard"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	t := &Tracker{
		client:   client,
		prefix:   prefix,
		serverID: serverID,
		ttl:      ttl,
		log:      log.With().Str("component", "presence").Logger(),
		updates:  make(chan update, 1024),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go t.run()
	return t
}

// Key 생성 유틸
func (t *Tracker) boardsKey() string {
	return t.prefix + ":presence:boards"
}

func (t *Tracker) boardKey(id model.BoardID) string {
	return t.prefix + ":presence:board:" + string(id)
}

// Channel 이벤트 발행 채널 이름
func (t *Tracker) Channel() string {
	return t.prefix + ":presence:events"
}

// BoardOpened hub.Observer
func (t *Tracker) BoardOpened(id model.BoardID) {
	t.enqueue(update{kind: EventOpened, board: id})
}

// BoardClosed hub.Observer
func (t *Tracker) BoardClosed(id model.BoardID) {
	t.enqueue(update{kind: EventClosed, board: id})
}

// RosterChanged hub.Observer
func (t *Tracker) RosterChanged(id model.BoardID, participants []model.Participant) {
	members := make([]Member, 0, len(participants))
	for _, p := range participants {
		members = append(members, Member{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			UserID:        p.UserID,
		})
	}
	t.enqueue(update{kind: EventRoster, board: id, members: members})
}

func (t *Tracker) enqueue(u update) {
	select {
	case <-t.stop:
		return
	default:
	}

	select {
	case t.updates <- u:
	default:
		t.dropped.Add(1)
		t.log.Warn().Str("board", string(u.board)).Str("event", string(u.kind)).Msg("Presence queue full, dropping update")
	}
}

// Dropped 큐가 가득 차 버려진 업데이트 수
func (t *Tracker) Dropped() uint64 {
	return t.dropped.Load()
}

func (t *Tracker) run() {
	defer close(t.done)

	// 조용한 보드의 키가 만료되지 않도록 TTL 갱신
	refresh := time.NewTicker(t.ttl / 2)
	defer refresh.Stop()
	open := make(map[model.BoardID]struct{})

	for {
		select {
		case u := <-t.updates:
			t.apply(u, open)

		case <-refresh.C:
			t.refresh(open)

		case <-t.stop:
			for {
				select {
				case u := <-t.updates:
					t.apply(u, open)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracker) apply(u update, open map[model.BoardID]struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var err error
	switch u.kind {
	case EventOpened:
		open[u.board] = struct{}{}
		err = t.client.SAdd(ctx, t.boardsKey(), string(u.board)).Err()

	case EventRoster:
		open[u.board] = struct{}{}
		err = t.writeRoster(ctx, u.board, u.members)

	case EventClosed:
		delete(open, u.board)
		_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, t.boardsKey(), string(u.board))
			pipe.Del(ctx, t.boardKey(u.board))
			return nil
		})
	}
	if err != nil {
		t.log.Debug().Err(err).Str("board", string(u.board)).Str("event", string(u.kind)).Msg("Presence write failed")
		return
	}

	t.publish(ctx, Event{
		Type:     u.kind,
		BoardID:  u.board,
		Count:    len(u.members),
		ServerID: t.serverID,
		At:       time.Now().Unix(),
	})
}

func (t *Tracker) writeRoster(ctx context.Context, id model.BoardID, members []Member) error {
	fields := make(map[string]any, len(members))
	for _, m := range members {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		fields[m.ParticipantID] = data
	}

	key := t.boardKey(id)
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
			pipe.Expire(ctx, key, t.ttl)
		}
		pipe.SAdd(ctx, t.boardsKey(), string(id))
		return nil
	})
	return err
}

func (t *Tracker) refresh(open map[model.BoardID]struct{}) {
	if len(open) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := t.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for id := range open {
			pipe.Expire(ctx, t.boardKey(id), t.ttl)
		}
		return nil
	})
	if err != nil {
		t.log.Debug().Err(err).Int("boards", len(open)).Msg("Presence refresh failed")
	}
}

func (t *Tracker) publish(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := t.client.Publish(ctx, t.Channel(), data).Err(); err != nil {
		t.log.Debug().Err(err).Msg("Presence publish failed")
	}
}

// Boards 접속자가 기록된 보드 목록
func (t *Tracker) Boards(ctx context.Context) ([]model.BoardID, error) {
	ids, err := t.client.SMembers(ctx, t.boardsKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.BoardID, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.BoardID(id))
	}
	return out, nil
}

// Members 보드 접속자 조회
func (t *Tracker) Members(ctx context.Context, id model.BoardID) ([]Member, error) {
	values, err := t.client.HGetAll(ctx, t.boardKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	members := make([]Member, 0, len(values))
	for _, v := range values {
		var m Member
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue
		}
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].ParticipantID < members[j].ParticipantID
	})
	return members, nil
}

// Subscribe 상태 변경 이벤트 구독
func (t *Tracker) Subscribe(ctx context.Context) *redis.PubSub {
	return t.client.Subscribe(ctx, t.Channel())
}

// Close 워커 종료. 남은 업데이트는 처리 후 반환한다.
func (t *Tracker) Close() {
	t.once.Do(func() {
		close(t.stop)
	})
	<-t.done
}
