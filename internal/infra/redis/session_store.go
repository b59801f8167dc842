package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"multiplayer-quiz-service/internal/app"
	"multiplayer-quiz-service/internal/domain"
)

// SessionStore keeps sessions in Redis so several service instances can share them.
// Layout per session:
//
//	quiz:session:{id}               hash of session fields
//	quiz:session:{id}:participants  hash identifier -> participant JSON
//	quiz:session:{id}:scores        hash identifier -> score
//	quiz:session:{id}:pversions     hash identifier -> participant version
//	quiz:session:{id}:answers       hash "identifier#index" -> "newScore|answer JSON"
//	quiz:joincode:{code}            session id
//	quiz:sessions:{status}          set of session ids
//
// Every state transition runs as a Lua script, so checks and writes are atomic per session.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

var _ app.SessionRepository = (*SessionStore)(nil)

var startScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'status') ~= 'waiting' then return 0 end
if redis.call('HLEN', KEYS[2]) == 0 then return -2 end
redis.call('HSET', KEYS[1], 'status', 'active', 'index', '0', 'deadline', ARGV[1], 'updated_at', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('SMOVE', KEYS[3], KEYS[4], ARGV[3])
return 1
`)

var advanceScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'status') ~= 'active' then return 0 end
if redis.call('HGET', KEYS[1], 'index') ~= ARGV[1] then return 0 end
if ARGV[3] == '1' and tonumber(ARGV[2]) < tonumber(redis.call('HGET', KEYS[1], 'deadline')) then return 0 end
local nextIndex = tonumber(ARGV[1]) + 1
redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
if nextIndex >= tonumber(redis.call('HGET', KEYS[1], 'count')) then
  redis.call('HSET', KEYS[1], 'status', 'completed')
  redis.call('SMOVE', KEYS[2], KEYS[3], ARGV[5])
  return 2
end
redis.call('HSET', KEYS[1], 'index', tostring(nextIndex), 'deadline', ARGV[4])
return 1
`)

var joinScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1, '', '0', '0'} end
local existing = redis.call('HGET', KEYS[2], ARGV[1])
if existing then
  return {0, existing, redis.call('HGET', KEYS[3], ARGV[1]) or '0', redis.call('HGET', KEYS[4], ARGV[1]) or '1'}
end
if redis.call('HGET', KEYS[1], 'status') == 'completed' then return {-2, '', '0', '0'} end
local cap = tonumber(redis.call('HGET', KEYS[1], 'capacity') or '0')
if cap > 0 and redis.call('HLEN', KEYS[2]) >= cap then return {-3, '', '0', '0'} end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[3], ARGV[1], '0')
redis.call('HSET', KEYS[4], ARGV[1], '1')
return {1, ARGV[2], '0', '1'}
`)

var recordScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1, '', '', '0', '0'} end
local participant = redis.call('HGET', KEYS[2], ARGV[1])
if not participant then return {-2, '', '', '0', '0'} end
local prior = redis.call('HGET', KEYS[5], ARGV[2])
if prior then
  return {0, prior, participant, redis.call('HGET', KEYS[3], ARGV[1]) or '0', redis.call('HGET', KEYS[4], ARGV[1]) or '1'}
end
if redis.call('HGET', KEYS[1], 'status') ~= 'active' then return {-3, '', '', '0', '0'} end
if redis.call('HGET', KEYS[1], 'index') ~= ARGV[3] then return {-4, '', '', '0', '0'} end
local points = tonumber(ARGV[4])
if points > 0 then
  redis.call('HINCRBY', KEYS[3], ARGV[1], points)
  redis.call('HINCRBY', KEYS[4], ARGV[1], 1)
end
local score = redis.call('HGET', KEYS[3], ARGV[1]) or '0'
local rec = score .. '|' .. ARGV[5]
redis.call('HSET', KEYS[5], ARGV[2], rec)
return {1, rec, participant, score, redis.call('HGET', KEYS[4], ARGV[1]) or '1'}
`)

func (s *SessionStore) CreateSession(ctx context.Context, session domain.Session) error {
	ok, err := s.client.SetNX(ctx, joinCodeKey(session.JoinCode), session.ID, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("reserve join code: %w", err)
	}
	if !ok {
		return domain.ErrJoinCodeTaken
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey(session.ID), encodeSession(session))
		pipe.SAdd(ctx, statusKey(session.Status), session.ID)
		if s.ttl > 0 {
			pipe.Expire(ctx, sessionKey(session.ID), s.ttl)
		}
		return nil
	})
	if err != nil {
		_ = s.client.Del(ctx, joinCodeKey(session.JoinCode)).Err()
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return decodeSession(fields)
}

func (s *SessionStore) FindByJoinCode(ctx context.Context, code string) (domain.Session, error) {
	id, err := s.client.Get(ctx, joinCodeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("find join code: %w", err)
	}
	return s.GetSession(ctx, id)
}

func (s *SessionStore) ListSessions(ctx context.Context, status domain.Status) ([]domain.Session, error) {
	ids, err := s.client.SMembers(ctx, statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]domain.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			// expired; drop the stale index entry
			_ = s.client.SRem(ctx, statusKey(status), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		if session.Status == status {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	code, err := s.client.HGet(ctx, sessionKey(sessionID), "join_code").Result()
	if errors.Is(err, redis.Nil) {
		return domain.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	var deleted *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, sessionKeys(sessionID)...)
		for _, st := range []domain.Status{domain.StatusWaiting, domain.StatusActive, domain.StatusCompleted} {
			pipe.SRem(ctx, statusKey(st), sessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if deleted.Val() == 0 {
		return domain.ErrSessionNotFound
	}
	// only release the code if it still points at this session
	if owner, err := s.client.Get(ctx, joinCodeKey(code)).Result(); err == nil && owner == sessionID {
		_ = s.client.Del(ctx, joinCodeKey(code)).Err()
	}
	return nil
}

func (s *SessionStore) StartSession(ctx context.Context, sessionID string, now time.Time) (domain.Session, bool, error) {
	budget, err := s.budget(ctx, sessionID)
	if err != nil {
		return domain.Session{}, false, err
	}
	res, err := startScript.Run(ctx, s.client,
		[]string{sessionKey(sessionID), participantsKey(sessionID), statusKey(domain.StatusWaiting), statusKey(domain.StatusActive)},
		now.Add(budget).UnixMilli(), now.UnixMilli(), sessionID,
	).Int()
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("start session: %w", err)
	}
	switch res {
	case -1:
		return domain.Session{}, false, domain.ErrSessionNotFound
	case -2:
		session, err := s.GetSession(ctx, sessionID)
		if err != nil {
			return domain.Session{}, false, err
		}
		return session, false, domain.ErrNoParticipants
	}
	if res == 1 {
		s.touch(ctx, sessionID)
	}
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, false, err
	}
	return session, res == 1, nil
}

func (s *SessionStore) AdvanceQuestion(ctx context.Context, req app.AdvanceRequest) (domain.Session, bool, error) {
	budget, err := s.budget(ctx, req.SessionID)
	if err != nil {
		return domain.Session{}, false, err
	}
	requireDue := "0"
	if req.RequireDue {
		requireDue = "1"
	}
	res, err := advanceScript.Run(ctx, s.client,
		[]string{sessionKey(req.SessionID), statusKey(domain.StatusActive), statusKey(domain.StatusCompleted)},
		strconv.Itoa(req.ExpectedIndex), req.Now.UnixMilli(), requireDue, req.Now.Add(budget).UnixMilli(), req.SessionID,
	).Int()
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("advance question: %w", err)
	}
	if res == -1 {
		return domain.Session{}, false, domain.ErrSessionNotFound
	}
	if res > 0 {
		s.touch(ctx, req.SessionID)
	}
	session, err := s.GetSession(ctx, req.SessionID)
	if err != nil {
		return domain.Session{}, false, err
	}
	return session, res > 0, nil
}

func (s *SessionStore) AddParticipant(ctx context.Context, p domain.Participant) (domain.Participant, bool, error) {
	key := domain.IdentifierFor(p)
	p.Score = 0
	p.Version = 1
	data, err := json.Marshal(p)
	if err != nil {
		return domain.Participant{}, false, err
	}
	vals, err := joinScript.Run(ctx, s.client,
		[]string{sessionKey(p.SessionID), participantsKey(p.SessionID), scoresKey(p.SessionID), pversionsKey(p.SessionID)},
		key, string(data),
	).Slice()
	if err != nil {
		return domain.Participant{}, false, fmt.Errorf("add participant: %w", err)
	}
	switch toInt(vals[0]) {
	case -1:
		return domain.Participant{}, false, domain.ErrSessionNotFound
	case -2:
		return domain.Participant{}, false, domain.ErrSessionClosed
	case -3:
		return domain.Participant{}, false, domain.ErrSessionFull
	}
	stored, err := decodeParticipant(toString(vals[1]), toString(vals[2]), toString(vals[3]))
	if err != nil {
		return domain.Participant{}, false, err
	}
	created := toInt(vals[0]) == 1
	if created {
		s.touch(ctx, p.SessionID)
	}
	return stored, created, nil
}

func (s *SessionStore) GetParticipant(ctx context.Context, sessionID, key string) (domain.Participant, error) {
	if err := s.exists(ctx, sessionID); err != nil {
		return domain.Participant{}, err
	}
	pipe := s.client.Pipeline()
	raw := pipe.HGet(ctx, participantsKey(sessionID), key)
	score := pipe.HGet(ctx, scoresKey(sessionID), key)
	version := pipe.HGet(ctx, pversionsKey(sessionID), key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	if errors.Is(raw.Err(), redis.Nil) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return decodeParticipant(raw.Val(), score.Val(), version.Val())
}

func (s *SessionStore) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	if err := s.exists(ctx, sessionID); err != nil {
		return nil, err
	}
	pipe := s.client.Pipeline()
	raws := pipe.HGetAll(ctx, participantsKey(sessionID))
	scores := pipe.HGetAll(ctx, scoresKey(sessionID))
	versions := pipe.HGetAll(ctx, pversionsKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	out := make([]domain.Participant, 0, len(raws.Val()))
	for key, raw := range raws.Val() {
		p, err := decodeParticipant(raw, scores.Val()[key], versions.Val()[key])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SessionStore) RecordAnswer(ctx context.Context, ev domain.AnswerEvent) (app.RecordedAnswer, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return app.RecordedAnswer{}, err
	}
	id := ev.SessionID
	vals, err := recordScript.Run(ctx, s.client,
		[]string{sessionKey(id), participantsKey(id), scoresKey(id), pversionsKey(id), answersKey(id)},
		ev.ParticipantKey, answerField(ev.ParticipantKey, ev.QuestionIndex), strconv.Itoa(ev.QuestionIndex), ev.Points, string(data),
	).Slice()
	if err != nil {
		return app.RecordedAnswer{}, fmt.Errorf("record answer: %w", err)
	}
	switch toInt(vals[0]) {
	case -1:
		return app.RecordedAnswer{}, domain.ErrSessionNotFound
	case -2:
		return app.RecordedAnswer{}, domain.ErrParticipantNotFound
	case -3:
		return app.RecordedAnswer{}, domain.ErrSessionNotActive
	case -4:
		return app.RecordedAnswer{}, domain.ErrLateSubmission
	}
	stored, err := decodeAnswer(toString(vals[1]))
	if err != nil {
		return app.RecordedAnswer{}, err
	}
	participant, err := decodeParticipant(toString(vals[2]), toString(vals[3]), toString(vals[4]))
	if err != nil {
		return app.RecordedAnswer{}, err
	}
	created := toInt(vals[0]) == 1
	if created {
		s.touch(ctx, id)
	}
	return app.RecordedAnswer{Event: stored, Participant: participant, Created: created}, nil
}

func (s *SessionStore) GetAnswer(ctx context.Context, sessionID, key string, index int) (domain.AnswerEvent, error) {
	raw, err := s.client.HGet(ctx, answersKey(sessionID), answerField(key, index)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.AnswerEvent{}, domain.ErrAnswerNotFound
	}
	if err != nil {
		return domain.AnswerEvent{}, fmt.Errorf("get answer: %w", err)
	}
	return decodeAnswer(raw)
}

func (s *SessionStore) budget(ctx context.Context, sessionID string) (time.Duration, error) {
	raw, err := s.client.HGet(ctx, sessionKey(sessionID), "budget").Result()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read time budget: %w", err)
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse time budget: %w", err)
	}
	return time.Duration(secs) * time.Second, nil
}

func (s *SessionStore) exists(ctx context.Context, sessionID string) error {
	n, err := s.client.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

var touchScript = redis.NewScript(`
local n = #KEYS
for i = 1, n - 1 do redis.call('PEXPIRE', KEYS[i], ARGV[1]) end
if redis.call('GET', KEYS[n]) == ARGV[2] then redis.call('PEXPIRE', KEYS[n], ARGV[1]) end
return 1
`)

// touch refreshes the expiry of every key of a session, its join code included while the
// code still points at it.
func (s *SessionStore) touch(ctx context.Context, sessionID string) {
	if s.ttl <= 0 {
		return
	}
	code, err := s.client.HGet(ctx, sessionKey(sessionID), "join_code").Result()
	if err != nil {
		return
	}
	keys := append(sessionKeys(sessionID), joinCodeKey(code))
	if err := touchScript.Run(ctx, s.client, keys, s.ttl.Milliseconds(), sessionID).Err(); err != nil {
		log.Printf("session %s: refresh expiry: %v", sessionID, err)
	}
}

func sessionKey(id string) string      { return "quiz:session:" + id }
func participantsKey(id string) string { return sessionKey(id) + ":participants" }
func scoresKey(id string) string       { return sessionKey(id) + ":scores" }
func pversionsKey(id string) string    { return sessionKey(id) + ":pversions" }
func answersKey(id string) string      { return sessionKey(id) + ":answers" }
func joinCodeKey(code string) string   { return "quiz:joincode:" + code }
func statusKey(st domain.Status) string {
	return "quiz:sessions:" + string(st)
}

func sessionKeys(id string) []string {
	return []string{sessionKey(id), participantsKey(id), scoresKey(id), pversionsKey(id), answersKey(id)}
}

func answerField(key string, index int) string {
	return key + "#" + strconv.Itoa(index)
}

func encodeSession(s domain.Session) map[string]interface{} {
	var deadline int64
	if !s.QuestionDeadline.IsZero() {
		deadline = s.QuestionDeadline.UnixMilli()
	}
	return map[string]interface{}{
		"id":         s.ID,
		"content_id": s.ContentID,
		"host":       s.HostIdentity,
		"join_code":  s.JoinCode,
		"capacity":   s.Capacity,
		"status":     string(s.Status),
		"mode":       string(s.Mode),
		"policy":     string(s.Policy),
		"budget":     s.TimeBudget,
		"index":      s.CurrentIndex,
		"count":      s.QuestionCount,
		"deadline":   deadline,
		"version":    s.Version,
		"created_at": s.CreatedAt.UnixMilli(),
		"updated_at": s.UpdatedAt.UnixMilli(),
	}
}

func decodeSession(f map[string]string) (domain.Session, error) {
	ints := make(map[string]int64, 8)
	for _, name := range []string{"capacity", "budget", "index", "count", "deadline", "version", "created_at", "updated_at"} {
		v, err := strconv.ParseInt(f[name], 10, 64)
		if err != nil {
			return domain.Session{}, fmt.Errorf("decode session field %s: %w", name, err)
		}
		ints[name] = v
	}
	s := domain.Session{
		ID:            f["id"],
		ContentID:     f["content_id"],
		HostIdentity:  f["host"],
		JoinCode:      f["join_code"],
		Capacity:      int(ints["capacity"]),
		Status:        domain.Status(f["status"]),
		Mode:          domain.Mode(f["mode"]),
		Policy:        domain.ScoringPolicy(f["policy"]),
		TimeBudget:    int(ints["budget"]),
		CurrentIndex:  int(ints["index"]),
		QuestionCount: int(ints["count"]),
		Version:       ints["version"],
		CreatedAt:     time.UnixMilli(ints["created_at"]),
		UpdatedAt:     time.UnixMilli(ints["updated_at"]),
	}
	if ms := ints["deadline"]; ms > 0 {
		s.QuestionDeadline = time.UnixMilli(ms)
	}
	return s, nil
}

func decodeParticipant(raw, score, version string) (domain.Participant, error) {
	var p domain.Participant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.Participant{}, fmt.Errorf("decode participant: %w", err)
	}
	if n, err := strconv.Atoi(score); err == nil {
		p.Score = n
	}
	if v, err := strconv.ParseInt(version, 10, 64); err == nil && v > 0 {
		p.Version = v
	}
	return p, nil
}

func decodeAnswer(rec string) (domain.AnswerEvent, error) {
	score, raw, ok := strings.Cut(rec, "|")
	if !ok {
		return domain.AnswerEvent{}, fmt.Errorf("malformed answer record")
	}
	var ev domain.AnswerEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return domain.AnswerEvent{}, fmt.Errorf("decode answer: %w", err)
	}
	n, err := strconv.Atoi(score)
	if err != nil {
		return domain.AnswerEvent{}, fmt.Errorf("decode answer score: %w", err)
	}
	ev.NewScore = n
	return ev, nil
}

func toInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case int64:
		return strconv.FormatInt(s, 10)
	}
	return ""
}
