package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"expertdraw/internal/app"
	"expertdraw/internal/domain"
	"expertdraw/internal/engine"
	"expertdraw/internal/export"
	"expertdraw/internal/repo"
)

func drawCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "draw", Short: "Manage draw applications"}
	cmd.AddCommand(
		drawCreateCmd(),
		drawListCmd(),
		drawShowCmd(),
		drawUpdateCmd(),
		drawDeleteCmd(),
		drawExecuteCmd(),
		drawTransitionCmd("complete", "Mark an executed draw completed"),
		drawTransitionCmd("cancel", "Cancel a pending or executed draw"),
		drawResultsCmd(),
		drawReplaceCmd(),
		drawContactCmd(),
		drawExportCmd("export", "Export the active results"),
		drawExportCmd("sign-in-sheet", "Print the review sign-in sheet"),
		drawEventsCmd(),
	)
	return cmd
}

// drawFlags registers the editable draw fields on fs.
func drawFlags(fs *pflag.FlagSet) {
	fs.String("category", "", "expert category")
	fs.String("subcategory", "", "expert subcategory")
	fs.String("specialty", "", "required specialty")
	fs.String("project-name", "", "project name")
	fs.String("project-code", "", "project code")
	fs.Int("experts", 0, "number of primary experts")
	fs.Int("backups", 0, "number of backup experts")
	fs.String("method", "", "draw method: random, lottery or weighted")
	fs.StringSlice("titles", nil, "eligible titles")
	fs.StringSlice("regions", nil, "eligible regions")
	fs.StringSlice("specialties", nil, "eligible specialties")
	fs.String("avoid-enabled", "", "review-location avoidance: true or false")
	fs.String("avoid-units", "", "organizations to exclude, comma or semicolon separated")
	fs.String("avoid-persons", "", "experts to exclude by id or name")
	fs.String("review-time", "", "review time (RFC3339)")
	fs.String("review-location", "", "review location")
	fs.String("rule", "", "rule id")
}

func parseTriState(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, fmt.Errorf("%w: avoid-enabled must be true or false", domain.ErrValidation)
	}
	return &b, nil
}

func drawCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pending draw",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			str := func(n string) string { v, _ := fs.GetString(n); return v }
			list := func(n string) []string { v, _ := fs.GetStringSlice(n); return v }
			experts, _ := fs.GetInt("experts")
			backups, _ := fs.GetInt("backups")
			avoid, err := parseTriState(str("avoid-enabled"))
			if err != nil {
				return err
			}
			in := engine.DrawInput{
				Category:       str("category"),
				Subcategory:    str("subcategory"),
				Specialty:      str("specialty"),
				ProjectName:    str("project-name"),
				ProjectCode:    str("project-code"),
				ExpertCount:    experts,
				BackupCount:    backups,
				DrawMethod:     str("method"),
				Titles:         list("titles"),
				Regions:        list("regions"),
				Specialties:    list("specialties"),
				AvoidEnabled:   avoid,
				AvoidUnits:     str("avoid-units"),
				AvoidPersons:   str("avoid-persons"),
				ReviewTime:     str("review-time"),
				ReviewLocation: str("review-location"),
				RuleID:         str("rule"),
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.CreateDraw(ctx, in, actorID())
				if err != nil {
					return err
				}
				return printDraws(d, []domain.DrawApplication{d})
			})
		},
	}
	drawFlags(cmd.Flags())
	return cmd
}

func drawUpdateCmd() *cobra.Command {
	var ifVersion int64
	cmd := &cobra.Command{
		Use:   "update <draw-id>",
		Short: "Edit a pending draw; only the flags given are changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			var p engine.DrawPatch
			strs := map[string]**string{
				"category": &p.Category, "subcategory": &p.Subcategory, "specialty": &p.Specialty,
				"project-name": &p.ProjectName, "project-code": &p.ProjectCode, "method": &p.DrawMethod,
				"avoid-units": &p.AvoidUnits, "avoid-persons": &p.AvoidPersons, "review-time": &p.ReviewTime,
				"review-location": &p.ReviewLocation, "rule": &p.RuleID,
			}
			for name, dst := range strs {
				if fs.Changed(name) {
					v, _ := fs.GetString(name)
					*dst = &v
				}
			}
			lists := map[string]**[]string{"titles": &p.Titles, "regions": &p.Regions, "specialties": &p.Specialties}
			for name, dst := range lists {
				if fs.Changed(name) {
					v, _ := fs.GetStringSlice(name)
					*dst = &v
				}
			}
			ints := map[string]**int{"experts": &p.ExpertCount, "backups": &p.BackupCount}
			for name, dst := range ints {
				if fs.Changed(name) {
					v, _ := fs.GetInt(name)
					*dst = &v
				}
			}
			if fs.Changed("avoid-enabled") {
				v, _ := fs.GetString("avoid-enabled")
				b, err := parseTriState(v)
				if err != nil {
					return err
				}
				p.AvoidEnabled = b
			}
			if fs.Changed("if-version") {
				p.IfVersion = &ifVersion
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.UpdateDraw(ctx, args[0], p, actorID())
				if err != nil {
					return err
				}
				return printDraws(d, []domain.DrawApplication{d})
			})
		},
	}
	drawFlags(cmd.Flags())
	cmd.Flags().Int64Var(&ifVersion, "if-version", 0, "reject the edit unless the draw is at this version")
	return cmd
}

func drawListCmd() *cobra.Command {
	var f repo.DrawFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List draws, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListDraws(ctx, f)
				if err != nil {
					return err
				}
				return printDraws(items, items)
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum draws")
	return cmd
}

func drawShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <draw-id>",
		Short: "Show a draw",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.GetDraw(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
}

func drawDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <draw-id>...",
		Short: "Delete draws that were never executed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if len(args) == 1 {
					if err := a.Engine.DeleteDraw(ctx, args[0], actorID()); err != nil {
						return err
					}
					fmt.Println("deleted", args[0])
					return nil
				}
				res, err := a.Engine.BatchDeleteDraws(ctx, args, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("deleted %d, skipped %d\n", res.Deleted, res.Skipped)
				return nil
			})
		},
	}
}

func drawExecuteCmd() *cobra.Command {
	var seed uint64
	var timeoutMS int
	cmd := &cobra.Command{
		Use:   "execute <draw-id>",
		Short: "Execute or re-execute a draw",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ExecuteOptions{ActorID: actorID()}
			if cmd.Flags().Changed("seed") {
				opts.Seed = &seed
			}
			if timeoutMS > 0 {
				opts.Timeout = time.Duration(timeoutMS) * time.Millisecond
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.Execute(ctx, args[0], opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("execution %d (%s, seed %d, pool %d)\n", out.Execution.Seq, out.Execution.Method, out.Execution.Seed, out.Execution.PoolSize)
				return printResults(out.Results, out.Results)
			})
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 0, "fix the random seed")
	cmd.Flags().IntVar(&timeoutMS, "timeout-ms", 0, "roster query timeout")
	return cmd
}

func drawTransitionCmd(op, short string) *cobra.Command {
	return &cobra.Command{
		Use:   op + " <draw-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				run := a.Engine.Complete
				if op == "cancel" {
					run = a.Engine.Cancel
				}
				d, err := run(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printDraws(d, []domain.DrawApplication{d})
			})
		},
	}
}

func drawResultsCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "results <draw-id>",
		Short: "List results: primaries then backups by ordinal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				page, err := a.Engine.ListResults(ctx, args[0], engine.ListOptions{IncludeSuperseded: all})
				if err != nil {
					return err
				}
				return printResults(page, page.Items)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include superseded rows")
	return cmd
}

func drawReplaceCmd() *cobra.Command {
	var backup, primary string
	cmd := &cobra.Command{
		Use:   "replace <draw-id>",
		Short: "Promote a backup into a vacated primary slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rep, err := a.Engine.Replace(ctx, engine.ReplaceOptions{
					DrawID:          args[0],
					BackupResultID:  backup,
					PrimaryResultID: primary,
					ActorID:         actorID(),
				})
				if err != nil {
					return err
				}
				return printResults(rep, []domain.DrawResult{rep.Promoted, rep.Superseded})
			})
		},
	}
	cmd.Flags().StringVar(&backup, "backup", "", "backup result id to promote")
	cmd.Flags().StringVar(&primary, "primary", "", "primary result id to replace (default: the flagged primary)")
	_ = cmd.MarkFlagRequired("backup")
	return cmd
}

func drawContactCmd() *cobra.Command {
	var opts engine.ContactOptions
	cmd := &cobra.Command{
		Use:   "contact <draw-id> <result-id>",
		Short: "Record a contact outcome",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.DrawID, opts.ResultID, opts.ActorID = args[0], args[1], actorID()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				upd, err := a.Engine.UpdateContact(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(upd)
				}
				rows := []domain.DrawResult{upd.Result}
				if upd.Promoted != nil {
					rows = append(rows, *upd.Promoted)
				}
				if err := printResults(upd, rows); err != nil {
					return err
				}
				if werr := upd.Err(); werr != nil {
					fmt.Fprintln(os.Stderr, "warning:", werr)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "unset, contacted, confirmed, declined or unreachable")
	cmd.Flags().StringVar(&opts.Note, "note", "", "contact note")
	cmd.Flags().BoolVar(&opts.AutoReplace, "auto-replace", false, "promote the next backup when the primary is unavailable")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func drawExportCmd(use, short string) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   use + " <draw-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, rows, err := a.Engine.ActiveResults(ctx, args[0])
				if err != nil {
					return err
				}
				var w io.Writer = os.Stdout
				if out != "" {
					file, err := os.Create(out)
					if err != nil {
						return err
					}
					defer file.Close()
					w = file
				}
				if use == "sign-in-sheet" {
					return export.SignInSheet(w, d, rows, f)
				}
				return export.Results(w, d, rows, f)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "csv, markdown, html or text")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to file instead of stdout")
	return cmd
}

func drawEventsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "events <draw-id>",
		Short: "Audit trail of a draw, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.DrawEvents(ctx, args[0], n, 0)
				if err != nil {
					return err
				}
				var rows []table.Row
				for _, e := range items {
					rows = append(rows, table.Row{e.ID, e.TS, e.Type, e.EntityID, e.ActorID, e.Payload})
				}
				return printTable(items, table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"}, rows)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func printDraws(v any, items []domain.DrawApplication) error {
	var rows []table.Row
	for _, d := range items {
		rows = append(rows, table.Row{d.ID, d.Status, d.Category, d.ProjectName, d.ExpertCount, d.BackupCount, d.Version})
	}
	return printTable(v, table.Row{"ID", "Status", "Category", "Project", "Experts", "Backups", "Version"}, rows)
}

func printResults(v any, items []domain.DrawResult) error {
	var rows []table.Row
	for _, r := range items {
		role := "primary"
		if r.IsBackup {
			role = "backup"
		}
		name := ""
		if r.Expert != nil {
			name = r.Expert.Name
		}
		rows = append(rows, table.Row{r.ID, role, r.Ordinal, r.ExpertID, name, r.State, r.IsReplacement, r.ContactStatus})
	}
	return printTable(v, table.Row{"Result", "Role", "Ordinal", "Expert", "Name", "State", "Replacement", "Contact"}, rows)
}
