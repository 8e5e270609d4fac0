package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/app"
	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/entity"
	"github.com/joseph-ayodele/note2tex/internal/quota"
	"github.com/joseph-ayodele/note2tex/internal/repository"
	"github.com/joseph-ayodele/note2tex/internal/services/projects"
)

// open loads configuration and connects to the database and object store.
func open(ctx context.Context, cmd *cli.Command) (*app.App, error) {
	cfg, err := common.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := app.NewLogger(os.Stderr, cfg.Server.LogFormat, cmd.Root().String("log-level"))
	return app.New(ctx, cfg, logger)
}

func userByEmail(ctx context.Context, a *app.App, email string) (*entity.User, error) {
	return a.Users.GetByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseID validates a UUID flag and reports a VALIDATION_ERROR when it is malformed.
func parseID(field, value string) (uuid.UUID, error) {
	validator := common.NewValidator()
	validator.Field(field, value, common.Required, common.UUID)
	if err := common.ValidateAndReturnError(validator); err != nil {
		return uuid.Nil, err
	}
	return uuid.MustParse(value), nil
}

func parsePlan(plan, expires string) (constants.Plan, *time.Time, error) {
	p := constants.Plan(strings.ToLower(plan))
	if p != constants.PlanFree && p != constants.PlanPremium {
		return "", nil, fmt.Errorf("plan must be free or premium")
	}
	if expires == "" {
		return p, nil, nil
	}
	t, err := time.Parse("2006-01-02", expires)
	if err != nil {
		return "", nil, fmt.Errorf("expires must be YYYY-MM-DD: %w", err)
	}
	return p, &t, nil
}

// waitTerminal polls the project until it leaves processing.
func waitTerminal(ctx context.Context, a *app.App, userID, projectID uuid.UUID) (*projects.View, error) {
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		v, err := a.Service.Get(ctx, userID, projectID)
		if err != nil {
			return nil, err
		}
		if v.Status.Terminal() {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-tick.C:
		}
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the database schema",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := open(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			// app.New already migrated when DB_AUTO_MIGRATE is set
			if !a.Config.Database.AutoMigrate {
				if err := repository.Migrate(ctx, a.DB, a.Logger); err != nil {
					return err
				}
			}
			fmt.Fprintln(os.Stderr, "schema up to date")
			return nil
		},
	}
}

func userCommand() *cli.Command {
	planFlags := []cli.Flag{
		&cli.StringFlag{Name: "email", Required: true},
		&cli.StringFlag{Name: "plan", Value: string(constants.PlanFree)},
		&cli.StringFlag{Name: "expires", Usage: "premium expiry date, YYYY-MM-DD"},
	}
	return &cli.Command{
		Name:  "user",
		Usage: "Manage users",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a user",
				Flags: planFlags,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					plan, expires, err := parsePlan(cmd.String("plan"), cmd.String("expires"))
					if err != nil {
						return err
					}
					a, err := open(ctx, cmd)
					if err != nil {
						return err
					}
					defer a.Close()
					u, err := a.Users.Create(ctx, strings.TrimSpace(strings.ToLower(cmd.String("email"))), plan, expires)
					if err != nil {
						return err
					}
					return printJSON(u)
				},
			},
			{
				Name:  "set-plan",
				Usage: "Change a user's plan",
				Flags: planFlags,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					plan, expires, err := parsePlan(cmd.String("plan"), cmd.String("expires"))
					if err != nil {
						return err
					}
					a, err := open(ctx, cmd)
					if err != nil {
						return err
					}
					defer a.Close()
					u, err := userByEmail(ctx, a, cmd.String("email"))
					if err != nil {
						return err
					}
					if err := a.Users.SetPlan(ctx, u.ID, plan, expires); err != nil {
						return err
					}
					u, err = a.Users.GetByID(ctx, u.ID)
					if err != nil {
						return err
					}
					return printJSON(u)
				},
			},
		},
	}
}

// withWorkers opens the app, starts workers, runs fn and drains the queue.
func withWorkers(ctx context.Context, cmd *cli.Command, fn func(a *app.App, user *entity.User) error) error {
	a, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.StartWorkers(); err != nil {
		return err
	}
	defer a.Shutdown()

	user, err := userByEmail(ctx, a, cmd.String("email"))
	if err != nil {
		return err
	}
	return fn(a, user)
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Create a project from a page image and process it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "image", Aliases: []string{"i"}, Required: true},
			&cli.StringFlag{Name: "title"},
			&cli.StringFlag{Name: "description"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withWorkers(ctx, cmd, func(a *app.App, user *entity.User) error {
				p, err := a.Service.Create(ctx, projects.CreateRequest{
					UserID:      user.ID,
					ImagePath:   cmd.String("image"),
					Title:       cmd.String("title"),
					Description: cmd.String("description"),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "project %s queued, waiting...\n", p.ID)
				v, err := waitTerminal(ctx, a, user.ID, p.ID)
				if err != nil {
					return err
				}
				return printJSON(v)
			})
		},
	}
}

func reprocessCommand() *cli.Command {
	return &cli.Command{
		Name:  "reprocess",
		Usage: "Run recognition again on a project",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "project", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			projectID, err := parseID("project", cmd.String("project"))
			if err != nil {
				return err
			}
			return withWorkers(ctx, cmd, func(a *app.App, user *entity.User) error {
				if _, err := a.Service.Reprocess(ctx, user.ID, projectID); err != nil {
					return err
				}
				v, err := waitTerminal(ctx, a, user.ID, projectID)
				if err != nil {
					return err
				}
				return printJSON(v)
			})
		},
	}
}

func rebuildCommand() *cli.Command {
	return &cli.Command{
		Name:  "rebuild",
		Usage: "Replace a project's LaTeX and rebuild its PDF and DOCX",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "project", Required: true},
			&cli.StringFlag{Name: "tex", Usage: "LaTeX file", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			projectID, err := parseID("project", cmd.String("project"))
			if err != nil {
				return err
			}
			tex, err := os.ReadFile(cmd.String("tex"))
			if err != nil {
				return err
			}
			return withWorkers(ctx, cmd, func(a *app.App, user *entity.User) error {
				if _, err := a.Service.UpdateTex(ctx, user.ID, projectID, string(tex)); err != nil {
					return err
				}
				v, err := waitTerminal(ctx, a, user.ID, projectID)
				if err != nil {
					return err
				}
				return printJSON(v)
			})
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List a user's projects",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := open(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			user, err := userByEmail(ctx, a, cmd.String("email"))
			if err != nil {
				return err
			}
			// listing needs no workers; the service only enqueues on writes
			svc := projects.NewService(a.Users, a.Projects, a.Ratings, a.Gate, a.Store, nil, a.Logger)
			views, err := svc.List(ctx, user.ID)
			if err != nil {
				return err
			}
			return printJSON(views)
		},
	}
}

func usageReportCommand() *cli.Command {
	return &cli.Command{
		Name:  "usage-report",
		Usage: "Export monthly usage and project counts as XLSX",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "month", Usage: "YYYY-MM (default: current month)"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := open(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			month := cmd.String("month")
			if month == "" {
				month = quota.MonthKey(time.Now())
			}
			data, err := a.Export.ExportUsageXLSX(ctx, month)
			if err != nil {
				return err
			}
			if err := os.WriteFile(cmd.String("output"), data, 0o644); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
			fmt.Fprintf(os.Stderr, "usage report for %s written to %s\n", month, cmd.String("output"))
			return nil
		},
	}
}

func rateCommand() *cli.Command {
	return &cli.Command{
		Name:  "rate",
		Usage: "Rate a project from 1 to 5",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "project", Required: true},
			&cli.IntFlag{Name: "value", Required: true},
			&cli.StringFlag{Name: "comment"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			projectID, err := parseID("project", cmd.String("project"))
			if err != nil {
				return err
			}
			a, err := open(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			user, err := userByEmail(ctx, a, cmd.String("email"))
			if err != nil {
				return err
			}
			svc := projects.NewService(a.Users, a.Projects, a.Ratings, a.Gate, a.Store, nil, a.Logger)
			r, err := svc.Rate(ctx, user.ID, projectID, int(cmd.Int("value")), cmd.String("comment"))
			if err != nil {
				return err
			}
			return printJSON(r)
		},
	}
}

func accountCommand() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Show a user's plan, usage this month and project count",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := open(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			user, err := userByEmail(ctx, a, cmd.String("email"))
			if err != nil {
				return err
			}
			svc := projects.NewService(a.Users, a.Projects, a.Ratings, a.Gate, a.Store, nil, a.Logger)
			sum, err := svc.Account(ctx, user.ID)
			if err != nil {
				return err
			}
			return printJSON(sum)
		},
	}
}
