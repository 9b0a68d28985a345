package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mission-recommender/internal/adapters/solvedac"
	"mission-recommender/internal/app"
	"mission-recommender/internal/domain"
	"mission-recommender/internal/infra/config"
	"mission-recommender/internal/infra/ratelimit"
	"mission-recommender/internal/usecase/ranking"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить схему хранилища",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Repo.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
				return nil
			})
		},
	}
}

func newGenerateCommand(opts *rootOptions) *cobra.Command {
	var (
		group     string
		noDeliver bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Сгенерировать плановые подборки для всех активных групп",
		Long: `Без флагов запускает пакетную генерацию за текущий миссионный день.
С --group создаёт внеплановую подборку для одной группы и сразу рассылает её.

Example:
  missionctl generate
  missionctl generate --group team:7
  missionctl generate --group squad:3 --no-deliver`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if group != "" {
					ref, err := parseGroupRef(group)
					if err != nil {
						return err
					}
					rec, err := a.Generator.CreateManual(cmd.Context(), ref)
					if err != nil {
						return err
					}
					if !noDeliver {
						delivered, err := a.Dispatcher.DeliverRecommendation(cmd.Context(), rec.ID)
						if err != nil {
							fmt.Fprintf(cmd.ErrOrStderr(), "рассылка подборки %d: %v\n", rec.ID, err)
						} else {
							rec = delivered
						}
					}
					return render(cmd.OutOrStdout(), opts, rec, func(w io.Writer) { printRecommendation(w, rec) })
				}
				summary, err := a.Generator.RunGenerationBatch(cmd.Context())
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts, summary, func(w io.Writer) {
					fmt.Fprintf(w, "batch %s: total=%d succeeded=%d failed=%d skipped=%d already=%d\n",
						summary.BatchID, summary.Total, summary.Succeeded, summary.Failed, summary.Skipped, summary.AlreadyGenerated)
					for _, f := range summary.Failures {
						fmt.Fprintf(w, "  %s: %s\n", f.Group, f.Reason)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "group for a manual recommendation, e.g. team:7")
	cmd.Flags().BoolVar(&noDeliver, "no-deliver", false, "keep the manual recommendation pending for the scheduled delivery")
	return cmd
}

func newDeliverCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deliver",
		Short: "Разослать подборки в состоянии pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				summary, err := a.Dispatcher.RunDeliveryBatch(cmd.Context())
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts, summary, func(w io.Writer) {
					fmt.Fprintf(w, "total=%d succeeded=%d failed=%d skipped=%d\n", summary.Total, summary.Succeeded, summary.Failed, summary.Skipped)
				})
			})
		},
	}
}

func newRankCommand(opts *rootOptions) *cobra.Command {
	var (
		teamID int64
		period string
	)
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Показать рейтинг команды",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if teamID <= 0 {
				return fmt.Errorf("--team is required")
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				var (
					entries []ranking.Entry
					err     error
				)
				if period == "solved" {
					entries, err = a.Ranking.SolvedLeaderboard(cmd.Context(), teamID)
				} else {
					p, perr := ranking.ParsePeriod(period)
					if perr != nil {
						return perr
					}
					entries, err = a.Ranking.MissionLeaderboard(cmd.Context(), teamID, p)
				}
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts, entries, func(w io.Writer) { printEntries(w, entries) })
			})
		},
	}
	cmd.Flags().Int64Var(&teamID, "team", 0, "team id")
	cmd.Flags().StringVar(&period, "period", "today", "today|all|solved")
	return cmd
}

func newUserCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "user <handle>",
		Short: "Показать профиль пользователя",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			limiter := ratelimit.NewLocal(ratelimit.Budget{RPS: cfg.SolvedAC.RPS, Burst: cfg.SolvedAC.Burst}, nil, cfg.SolvedAC.MaxWait)
			client := solvedac.NewClient(cfg.SolvedAC.BaseURL, cfg.SolvedAC.Timeout, limiter).WithClass(ratelimit.ClassAPI)
			profile, err := client.UserInfo(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("профиль %s: %w", args[0], err)
			}
			return render(cmd.OutOrStdout(), opts, profile, func(w io.Writer) {
				fmt.Fprintf(w, "%s  %s  solved=%d\n", profile.Handle, domain.TierForLevel(profile.Tier).Name, profile.SolvedCount)
				if bio := strings.TrimSpace(profile.Bio); bio != "" {
					fmt.Fprintln(w, bio)
				}
			})
		},
	}
}

func parseGroupRef(raw string) (domain.GroupRef, error) {
	kindRaw, idRaw, ok := strings.Cut(raw, ":")
	if !ok {
		return domain.GroupRef{}, fmt.Errorf("group must look like team:7, got %q", raw)
	}
	kind, err := domain.ParseGroupKind(kindRaw)
	if err != nil {
		return domain.GroupRef{}, err
	}
	var id int64
	if _, err := fmt.Sscanf(idRaw, "%d", &id); err != nil || id <= 0 {
		return domain.GroupRef{}, fmt.Errorf("invalid group id %q", idRaw)
	}
	return domain.GroupRef{ID: id, Kind: kind}, nil
}

func printRecommendation(w io.Writer, rec domain.Recommendation) {
	fmt.Fprintf(w, "#%d %s %s %s %s\n", rec.ID, rec.Group, rec.Kind, domain.DayKey(rec.MissionDay), rec.State)
	for i, p := range rec.Problems {
		fmt.Fprintf(w, "  %d) %d %s [%s] %s\n", i+1, p.ID, p.Title, domain.TierForLevel(p.Level).Name, p.URL())
	}
}

func printEntries(w io.Writer, entries []ranking.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tHANDLE\tSOLVED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", e.Rank, e.Subject, e.Solved)
	}
	_ = tw.Flush()
}
