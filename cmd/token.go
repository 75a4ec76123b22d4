package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rubiojr/pulse/pkg/auth"
	"github.com/rubiojr/pulse/pkg/config"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/urfave/cli/v3"
)

// TokenCommand issues session tokens signed with the configured secret. It
// stands in for the external identity provider during development.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a session token for a user",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "user",
				Usage: "User id (a new id is generated when empty)",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Display name stored on first use",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime (0 for no expiry)",
				Value: 24 * time.Hour,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			tok, err := issueToken(c.String("config"), c.String("user"), c.String("name"), c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
}

func issueToken(configPath, userID, name string, ttl time.Duration) (string, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.Secret == "" {
		return "", errors.New("auth.secret is not set, run 'pulse init' first")
	}
	if ttl < 0 {
		return "", errors.New("ttl must not be negative")
	}

	if userID == "" {
		userID = core.NewID()
	}
	if !core.ValidID(userID) {
		return "", fmt.Errorf("invalid user id %q", userID)
	}

	return auth.NewJWTVerifier(cfg.Auth.Secret, cfg.Auth.Issuer).Issue(userID, name, ttl)
}
