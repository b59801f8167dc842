package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"multiplayer-quiz-service/internal/client"
	"multiplayer-quiz-service/internal/config"
	"multiplayer-quiz-service/internal/domain"
)

type playOptions struct {
	server     string
	code       string
	session    string
	nickname   string
	user       string
	bot        bool
	startAfter time.Duration
}

// NewPlayCmd joins a session from the terminal.
func NewPlayCmd(configPath *string) *cobra.Command {
	var opts playOptions
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a quiz session and play from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd.Context(), *configPath, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "quiz server base URL")
	cmd.Flags().StringVar(&opts.code, "code", "", "join code")
	cmd.Flags().StringVar(&opts.session, "session", "", "session id, instead of a join code")
	cmd.Flags().StringVar(&opts.nickname, "nickname", "", "guest nickname")
	cmd.Flags().StringVar(&opts.user, "user", "", "user id, instead of a nickname")
	cmd.Flags().BoolVar(&opts.bot, "bot", false, "answer randomly instead of prompting")
	cmd.Flags().DurationVar(&opts.startAfter, "start-after", 0, "as host, start the session after this delay")
	return cmd
}

func runPlay(ctx context.Context, configPath string, opts playOptions, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if opts.code == "" && opts.session == "" {
		return fmt.Errorf("either --code or --session is required")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var answerer client.Answerer = client.NewPromptAnswerer(in, out)
	if opts.bot {
		answerer = client.NewRandomAnswerer()
	}
	identity := domain.Identity{UserID: opts.user, Nickname: opts.nickname}

	var c *client.Client
	c = client.New(client.Config{
		BaseURL:          opts.server,
		Identity:         identity,
		JoinCode:         opts.code,
		SessionID:        opts.session,
		PollInterval:     config.Duration(cfg.Client.PollInterval, client.DefaultPollInterval),
		BackstopInterval: config.Duration(cfg.Client.BackstopInterval, client.DefaultBackstopInterval),
		Answerer:         answerer,
		OnChange: func(v client.View, change client.Change) {
			render(out, v, change, c.Reconciler().Leaderboard())
		},
	})

	if opts.startAfter > 0 {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(opts.startAfter):
			}
			if _, err := c.Start(ctx); err != nil {
				log.Printf("start failed: %v", err)
			}
		}()
	}

	err = c.Run(ctx)
	switch {
	case errors.Is(err, client.ErrTerminated):
		fmt.Fprintln(out, "The host ended this session.")
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

func render(out io.Writer, v client.View, change client.Change, board []domain.Participant) {
	switch {
	case change.Terminated:
		return
	case v.Session.Status == domain.StatusWaiting:
		fmt.Fprintf(out, "Waiting in lobby %s (%d joined)\n", v.Session.JoinCode, len(v.Participants))
		return
	case change.QuestionChanged:
		fmt.Fprintf(out, "\n-- question %d of %d, %ds --\n", v.Session.CurrentIndex+1, v.Session.QuestionCount, v.Session.TimeBudget)
	case v.Session.Status == domain.StatusCompleted:
		fmt.Fprintln(out, "\nQuiz complete. Final standings:")
	case !change.Any():
		fmt.Fprintln(out, "Answer recorded.")
	}
	for i, p := range board {
		fmt.Fprintf(out, "  %d. %-20s %5d\n", i+1, domain.IdentifierFor(p), p.Score)
	}
}
