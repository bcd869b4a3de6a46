package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"expertdraw/internal/app"
	"expertdraw/internal/domain"
	"expertdraw/internal/repo"
)

// expertEntry lets import files omit is_active; omitted means active.
type expertEntry struct {
	domain.Expert `yaml:",inline"`
	Active        *bool `yaml:"is_active"`
}

type ruleEntry struct {
	domain.Rule `yaml:",inline"`
	Active      *bool `yaml:"is_active"`
}

// readEntries decodes a YAML or JSON file holding either a bare list or a
// list under key.
func readEntries[T any](path, key string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []T
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped map[string][]T
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrValidation, path, err)
	}
	return wrapped[key], nil
}

func activeOr(b *bool) bool { return b == nil || *b }

func expertCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "expert", Short: "Manage the expert roster"}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Upsert experts from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readEntries[expertEntry](args[0], "experts")
			if err != nil {
				return err
			}
			experts := make([]domain.Expert, 0, len(entries))
			for _, e := range entries {
				e.Expert.IsActive = activeOr(e.Active)
				experts = append(experts, e.Expert)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Engine.ImportExperts(ctx, experts, actorID())
				if err != nil {
					return err
				}
				fmt.Printf("imported %d experts\n", n)
				return nil
			})
		},
	}

	var category string
	var all bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List experts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListExperts(ctx, category, !all)
				if err != nil {
					return err
				}
				var rows []table.Row
				for _, e := range items {
					rows = append(rows, table.Row{e.ID, e.Name, e.Organization, e.Category, e.Region, e.Title, e.IsActive})
				}
				return printTable(items, table.Row{"ID", "Name", "Organization", "Category", "Region", "Title", "Active"}, rows)
			})
		},
	}
	listCmd.Flags().StringVar(&category, "category", "", "category filter")
	listCmd.Flags().BoolVar(&all, "all", false, "include inactive experts")

	cmd.AddCommand(importCmd, listCmd)
	return cmd
}

func ruleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rule", Short: "Manage draw rules"}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Upsert rules from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readEntries[ruleEntry](args[0], "rules")
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				for _, e := range entries {
					e.Rule.IsActive = activeOr(e.Active)
					r, err := a.Engine.UpsertRule(ctx, e.Rule, actorID())
					if err != nil {
						return fmt.Errorf("rule %q: %w", e.Rule.ID, err)
					}
					fmt.Println("saved rule", r.ID)
				}
				return nil
			})
		},
	}

	var all bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListRules(ctx, !all)
				if err != nil {
					return err
				}
				var rows []table.Row
				for _, r := range items {
					rows = append(rows, table.Row{r.ID, r.Name, r.Category, r.Subcategory, strings.Join(r.Titles, ","), r.DrawMethod, r.IsActive})
				}
				return printTable(items, table.Row{"ID", "Name", "Category", "Subcategory", "Titles", "Method", "Active"}, rows)
			})
		},
	}
	listCmd.Flags().BoolVar(&all, "all", false, "include inactive rules")

	cmd.AddCommand(importCmd, listCmd)
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	var roles []string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --actor-id; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := "edk_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
			rec := domain.APIKey{
				ID:      uuid.NewString(),
				ActorID: actorID(),
				Name:    name,
				Roles:   roles,
				KeyHash: repo.HashAPIKey(key),
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Repo.InsertAPIKey(ctx, nil, rec); err != nil {
					return err
				}
				fmt.Println(key)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "label for the key")
	createCmd.Flags().StringSliceVar(&roles, "role", []string{"operator"}, "role granted to the key (repeatable)")
	cmd.AddCommand(createCmd)
	return cmd
}
