package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rubiojr/pulse/pkg/client"
	"github.com/rubiojr/pulse/pkg/config"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/urfave/cli/v3"
)

var (
	tailTypeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Width(16)

	tailIDStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	tailTextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	tailStatusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Italic(true)
)

// TailCommand creates a CLI command that consumes the live push stream and
// prints every event.
//
// Typical usage:
//
//	pulse tail --token "$(pulse token)"
//	pulse tail --url http://feed.example.com --reconnect
//	pulse tail --json | jq -r 'select(.type=="post:new") | .post.content'
func TailCommand() *cli.Command {
	return &cli.Command{
		Name:  "tail",
		Usage: "Stream live feed events from a pulse server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Server base URL (defaults to the configured listen address)",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Session token",
				Sources: cli.EnvVars("PULSE_TOKEN"),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print raw JSON frames, one per line",
				Value: false,
			},
			&cli.BoolFlag{
				Name:  "reconnect",
				Usage: "Reconnect with exponential backoff when the stream drops",
				Value: false,
			},
			&cli.DurationFlag{
				Name:  "initial-backoff",
				Usage: "Initial reconnect backoff",
				Value: 1 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "max-backoff",
				Usage: "Maximum reconnect backoff",
				Value: 30 * time.Second,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			baseURL := c.String("url")
			if baseURL == "" {
				cfg, err := config.LoadConfig(c.String("config"))
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				baseURL = "http://" + cfg.Listen
			}

			opts := tailOptions{
				baseURL:        baseURL,
				token:          c.String("token"),
				raw:            c.Bool("json"),
				reconnect:      c.Bool("reconnect"),
				initialBackoff: c.Duration("initial-backoff"),
				maxBackoff:     c.Duration("max-backoff"),
				stdout:         os.Stdout,
				stderr:         os.Stderr,
			}
			return tailEvents(ctx, opts)
		},
	}
}

type tailOptions struct {
	baseURL        string
	token          string
	raw            bool
	reconnect      bool
	initialBackoff time.Duration
	maxBackoff     time.Duration
	stdout         io.Writer
	stderr         io.Writer
}

func tailEvents(ctx context.Context, opts tailOptions) error {
	if opts.token == "" {
		return errors.New("no token provided (flag --token or PULSE_TOKEN required)")
	}

	consumerOpts := []client.ConsumerOption{
		client.OnStatus(func(s client.Status) {
			_, _ = fmt.Fprintln(opts.stderr, tailStatusStyle.Render("Tail: "+s.String()))
		}),
	}
	if opts.reconnect {
		consumerOpts = append(consumerOpts, client.WithReconnect(opts.initialBackoff, opts.maxBackoff))
	}

	_, _ = fmt.Fprintf(opts.stderr, "Tail: connecting to %s\n", opts.baseURL)
	printer := &tailPrinter{out: opts.stdout, raw: opts.raw}
	consumer := client.NewConsumer(opts.baseURL, client.StaticToken(opts.token), printer, consumerOpts...)
	err := consumer.Run(ctx)
	if errors.Is(err, client.ErrUnauthenticated) {
		return fmt.Errorf("server rejected the token: %w", err)
	}
	return err
}

// tailPrinter renders frames as they arrive.
type tailPrinter struct {
	out io.Writer
	raw bool
}

func (p *tailPrinter) HandleFrame(f core.Frame) {
	if p.raw {
		b, err := json.Marshal(f)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintln(p.out, string(b))
		return
	}
	_, _ = fmt.Fprintln(p.out, formatFrame(f))
}

func formatFrame(f core.Frame) string {
	line := tailTypeStyle.Render(f.Type) + " " + tailIDStyle.Render(f.PostID)
	if f.Post == nil {
		return line
	}

	var detail string
	switch f.Type {
	case core.WirePostNew:
		detail = truncate(f.Post.Content, 80)
	case core.WirePostLike:
		detail = fmt.Sprintf("%d likes", f.Post.LikeCount)
	case core.WireCommentAdd, core.WireCommentEdit, core.WireCommentDelete:
		detail = fmt.Sprintf("%d comments", len(f.Post.Comments))
		if f.Type == core.WireCommentAdd && len(f.Post.Comments) > 0 {
			last := f.Post.Comments[len(f.Post.Comments)-1]
			detail += ": " + truncate(last.Text, 60)
		}
	}
	if detail == "" {
		return line
	}
	return line + " " + tailTextStyle.Render(detail)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
