package client_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiplayer-quiz-service/internal/app"
	"multiplayer-quiz-service/internal/client"
	"multiplayer-quiz-service/internal/domain"
	"multiplayer-quiz-service/internal/infra/memory"
	transporthttp "multiplayer-quiz-service/internal/transport/http"
)

var questions = map[string][]domain.Question{
	"arith": {
		{ID: "q1", Prompt: "1 + 1", CorrectAnswer: "2", Options: []string{"1", "2", "3"}, Mode: domain.ModeMCQ},
		{ID: "q2", Prompt: "2 + 2", CorrectAnswer: "4", Options: []string{"3", "4", "5"}, Mode: domain.ModeMCQ},
	},
}

// knowItAll always answers correctly.
type knowItAll struct {
	mu    sync.Mutex
	asked []int
}

func (k *knowItAll) Answer(_ context.Context, q domain.QuestionView) (string, error) {
	k.mu.Lock()
	k.asked = append(k.asked, q.Index)
	k.mu.Unlock()
	return questions["arith"][q.Index].CorrectAnswer, nil
}

func newServer(t *testing.T) (*app.SessionService, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	opts := app.DefaultOptions()
	opts.SettleDelay = 0
	bank := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(questions), time.Minute, 0)
	service := app.NewSessionService(memory.NewSessionStore(), bank, memory.NewBroker(32), opts)
	server := httptest.NewServer(transporthttp.NewRouter(service))
	t.Cleanup(server.Close)
	return service, server
}

func newClient(server *httptest.Server, code, nickname string, answerer client.Answerer) *client.Client {
	return client.New(client.Config{
		BaseURL:          server.URL,
		Identity:         domain.Identity{Nickname: nickname},
		JoinCode:         code,
		PollInterval:     50 * time.Millisecond,
		BackstopInterval: 100 * time.Millisecond,
		TickInterval:     50 * time.Millisecond,
		Answerer:         answerer,
	})
}

// startWhenJoined waits for n participants, then the host starts.
func startWhenJoined(t *testing.T, service *app.SessionService, session domain.Session, n int) {
	t.Helper()
	ctx := context.Background()
	require.Eventually(t, func() bool {
		snap, err := service.FetchSnapshot(ctx, session.ID)
		return err == nil && len(snap.Participants) >= n
	}, 5*time.Second, 20*time.Millisecond)
	_, err := service.StartSession(ctx, session.ID, session.HostIdentity)
	require.NoError(t, err)
}

func TestClientPlaysToCompletion(t *testing.T) {
	service, server := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := service.CreateSession(ctx, app.CreateSessionRequest{ContentID: "arith", HostIdentity: "host-1", Policy: domain.PolicyFixed})
	require.NoError(t, err)

	answerer := &knowItAll{}
	var statuses []domain.Status
	var mu sync.Mutex
	c := client.New(client.Config{
		BaseURL:          server.URL,
		Identity:         domain.Identity{Nickname: "alice"},
		JoinCode:         strings.ToLower(session.JoinCode),
		PollInterval:     50 * time.Millisecond,
		BackstopInterval: 100 * time.Millisecond,
		TickInterval:     50 * time.Millisecond,
		Answerer:         answerer,
		OnChange: func(v client.View, ch client.Change) {
			if ch.StatusChanged {
				mu.Lock()
				statuses = append(statuses, v.Session.Status)
				mu.Unlock()
			}
		},
	})

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	startWhenJoined(t, service, session, 2)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("client did not finish")
	}

	snap, err := service.FetchSnapshot(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, snap.Session.Status)
	assert.Equal(t, "alice", domain.IdentifierFor(snap.Participants[0]))
	assert.Equal(t, 200, snap.Participants[0].Score)

	answerer.mu.Lock()
	assert.Equal(t, []int{0, 1}, answerer.asked)
	answerer.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, statuses)
	assert.Equal(t, domain.StatusCompleted, statuses[len(statuses)-1])
}

func TestClientAdvancesOnTimeout(t *testing.T) {
	service, server := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	session, err := service.CreateSession(ctx, app.CreateSessionRequest{ContentID: "arith", HostIdentity: "host-1", Policy: domain.PolicyFixed, TimeBudget: 1})
	require.NoError(t, err)

	// two spectators race to advance; each index still moves exactly once
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, name := range []string{"ana", "ben"} {
		c := newClient(server, session.JoinCode, name, nil)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Run(ctx)
		}(i)
	}
	startWhenJoined(t, service, session, 3)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	snap, err := service.FetchSnapshot(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, snap.Session.Status)
	// start plus one advance per question
	assert.Equal(t, session.Version+3, snap.Session.Version)
	for _, p := range snap.Participants {
		assert.Zero(t, p.Score)
	}
}

func TestClientStopsWhenHostTerminates(t *testing.T) {
	service, server := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := service.CreateSession(ctx, app.CreateSessionRequest{ContentID: "arith", HostIdentity: "host-1"})
	require.NoError(t, err)

	c := newClient(server, session.JoinCode, "alice", nil)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		snap, err := service.FetchSnapshot(ctx, session.ID)
		return err == nil && len(snap.Participants) == 2
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, service.TerminateSession(ctx, session.ID, "host-1"))

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, client.ErrTerminated), "got %v", err)
	case <-ctx.Done():
		t.Fatal("client did not notice termination")
	}
	assert.True(t, c.Reconciler().View().Terminated)
}

func TestClientJoinUnknownCode(t *testing.T) {
	_, server := newServer(t)
	c := newClient(server, "ZZZZZZ", "alice", nil)
	err := c.Run(context.Background())
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound), "got %v", err)
}
