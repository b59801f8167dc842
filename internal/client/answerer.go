package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"multiplayer-quiz-service/internal/domain"
)

// Answerer picks an answer for a question. It may block until the player decides.
type Answerer interface {
	Answer(ctx context.Context, q domain.QuestionView) (string, error)
}

// RandomAnswerer picks a random option; useful for bots and load tests.
type RandomAnswerer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomAnswerer() *RandomAnswerer {
	return &RandomAnswerer{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (a *RandomAnswerer) Answer(_ context.Context, q domain.QuestionView) (string, error) {
	if len(q.Options) == 0 {
		return "", nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return q.Options[a.rnd.Intn(len(q.Options))], nil
}

// PromptAnswerer asks a human on a terminal. MCQ options may be picked by number.
type PromptAnswerer struct {
	out   io.Writer
	lines chan string
}

func NewPromptAnswerer(in io.Reader, out io.Writer) *PromptAnswerer {
	a := &PromptAnswerer{out: out, lines: make(chan string)}
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			a.lines <- scanner.Text()
		}
		close(a.lines)
	}()
	return a
}

func (a *PromptAnswerer) Answer(ctx context.Context, q domain.QuestionView) (string, error) {
	fmt.Fprintf(a.out, "\nQ%d/%d: %s\n", q.Index+1, q.Total, q.Prompt)
	for i, opt := range q.Options {
		fmt.Fprintf(a.out, "  %d) %s\n", i+1, opt)
	}
	fmt.Fprint(a.out, "> ")

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-a.lines:
		if !ok {
			return "", io.EOF
		}
		line = strings.TrimSpace(line)
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(q.Options) {
			return q.Options[n-1], nil
		}
		return line, nil
	}
}
