package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mission-recommender/internal/app"
	"mission-recommender/internal/infra/config"
	logpkg "mission-recommender/internal/infra/log"
)

type rootOptions struct {
	Format string // "json" | "text"
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "missionctl",
		Short:         "Разовые запуски генерации, рассылки и рейтингов",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newGenerateCommand(opts))
	cmd.AddCommand(newDeliverCommand(opts))
	cmd.AddCommand(newRankCommand(opts))
	cmd.AddCommand(newUserCommand(opts))
	return cmd
}

// withApp собирает зависимости на время одной команды.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := config.Parse()
	if err != nil {
		return err
	}
	logger := logpkg.Component(logpkg.NewLogger(cfg.AppEnv), "missionctl")
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// render печатает v как JSON или через text.
func render(w io.Writer, opts *rootOptions, v any, text func(io.Writer)) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
