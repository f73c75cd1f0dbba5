// ABOUTME: Admin CLI for veche user, poll and template management
// ABOUTME: Operates directly on the SQLite store, no running bot required

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/veche-bot/veche/internal/config"
	"github.com/veche-bot/veche/internal/decision"
	"github.com/veche-bot/veche/internal/dedupe"
	"github.com/veche-bot/veche/internal/store"
)

const banner = `
                     _                        _           _
 __   _____  ___| |__   ___        __ _  __| |_ __ ___ (_)_ __
 \ \ / / _ \/ __| '_ \ / _ \_____ / _' |/ _' | '_ ' _ \| | '_ \
  \ V /  __/ (__| | | |  __/_____| (_| | (_| | | | | | | | | | |
   \_/ \___|\___|_| |_|\___|      \__,_|\__,_|_| |_| |_|_|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "user":
		err = cmdUser(ctx, args)
	case "grant":
		err = cmdGrant(ctx, args)
	case "delete-user":
		err = cmdDeleteUser(ctx, args)
	case "polls":
		err = cmdPolls(ctx, args)
	case "poll":
		err = cmdPoll(ctx, args)
	case "close":
		err = cmdClose(ctx, args)
	case "templates":
		err = cmdTemplates(ctx)
	case "delete-template":
		err = cmdDeleteTemplate(ctx, args)
	case "stats":
		err = cmdStats(ctx)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: veche-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  user <id>                     Show a user's permission and activity")
	fmt.Println("  grant <id> <permission>       Set a user's permission (none/use/create/admin)")
	fmt.Println("  delete-user <id>              Delete a user and their votes and sessions (polls remain)")
	fmt.Println("  polls [limit]                 List active polls (default 20)")
	fmt.Println("  poll <id>                     Show a poll with vote counts")
	fmt.Println("  close <id>                    Close a poll and finalize its decision")
	fmt.Println("  templates                     List poll templates")
	fmt.Println("  delete-template <name>        Delete a template")
	fmt.Println("  stats                         Show poll and user counts")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  VECHE_DB       Database path (overrides config)")
	fmt.Println("  VECHE_CONFIG   Config file path")
	fmt.Println()
}

// openStore resolves the database path and opens the store.
// VECHE_DB wins over the config file; a missing config falls back to defaults.
func openStore() (*store.SQLiteStore, error) {
	dbPath := os.Getenv("VECHE_DB")
	if dbPath == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		dbPath = cfg.Database.Path
	}
	return store.NewSQLiteStore(dbPath)
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("VECHE_CONFIG")
	if path == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return config.Default(), nil
			}
			configDir = homeDir + "/.config"
		}
		path = configDir + "/veche/config.yaml"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func cmdUser(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: veche-admin user <id>")
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	u, err := s.GetUser(ctx, args[0])
	if err != nil {
		return fmt.Errorf("getting user: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  User")
	cyan.Println("  ----")
	fmt.Printf("  ID:            %s\n", u.ID)
	fmt.Printf("  Username:      %s\n", u.Username)
	fmt.Printf("  Permission:    %s\n", u.Permission)
	fmt.Printf("  Last activity: %s\n", u.LastActivity.Format(time.RFC3339))
	fmt.Println()
	return nil
}

func cmdGrant(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: veche-admin grant <id> <permission>")
	}
	perm := store.Permission(args[1])
	switch perm {
	case store.PermissionNone, store.PermissionUse, store.PermissionCreate, store.PermissionAdmin:
	default:
		return fmt.Errorf("invalid permission %q (want none, use, create or admin)", args[1])
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	// Make sure the user row exists so a grant can precede first contact.
	if _, err := s.UpsertUser(ctx, args[0], ""); err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	if err := s.SetPermission(ctx, args[0], perm); err != nil {
		return fmt.Errorf("setting permission: %w", err)
	}

	color.Green("  ✓ %s is now %s\n", args[0], perm)
	return nil
}

func cmdDeleteUser(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: veche-admin delete-user <id>")
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.DeleteUserCascade(ctx, args[0]); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	color.Green("  ✓ Deleted %s with their votes and sessions\n", args[0])
	return nil
}

func cmdPolls(ctx context.Context, args []string) error {
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid limit %q", args[0])
		}
		limit = n
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	polls, err := s.ListActivePolls(ctx, limit)
	if err != nil {
		return fmt.Errorf("listing polls: %w", err)
	}

	if len(polls) == 0 {
		fmt.Println("No active polls.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tQUESTION\tTYPE\tDECISION\tCREATED")
	for _, p := range polls {
		question := p.Question
		if len([]rune(question)) > 40 {
			question = string([]rune(question)[:37]) + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.ID, question, p.VotingType, p.DecisionStatus,
			p.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func cmdPoll(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: veche-admin poll <id>")
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.GetPoll(ctx, args[0])
	if err != nil {
		return fmt.Errorf("getting poll: %w", err)
	}
	counts, err := s.VoteCounts(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("counting votes: %w", err)
	}
	voters, err := s.CountDistinctVoters(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("counting voters: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Poll")
	cyan.Println("  ----")
	fmt.Printf("  ID:        %s\n", p.ID)
	fmt.Printf("  Question:  %s\n", p.Question)
	fmt.Printf("  Creator:   %s\n", p.CreatorID)
	fmt.Printf("  Status:    %s\n", p.Status)
	fmt.Printf("  Type:      %s\n", p.VotingType)
	fmt.Printf("  Threshold: %d%%\n", p.Threshold)
	if p.Cap > 0 {
		fmt.Printf("  Cap:       %d\n", p.Cap)
	}
	fmt.Printf("  Decision:  %s", p.DecisionStatus)
	if p.DecisionNumber != nil {
		fmt.Printf(" (№%d)", *p.DecisionNumber)
	}
	fmt.Println()
	fmt.Printf("  Voters:    %d\n", voters)
	fmt.Println()
	for i, opt := range p.Options {
		fmt.Printf("  %d. %s — %d\n", i+1, opt, counts[i])
	}
	fmt.Println()
	return nil
}

func cmdClose(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: veche-admin close <id>")
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	closed, err := s.ClosePoll(ctx, args[0])
	if err != nil {
		return fmt.Errorf("closing poll: %w", err)
	}
	if !closed {
		return fmt.Errorf("poll already closed")
	}

	// Finalize the verdict now that the poll is closed.
	duplicates := dedupe.New(time.Hour, 16)
	defer duplicates.Close()
	eng := decision.New(s, decision.NewKeywordClassifier(decision.DefaultLexicon()), duplicates, nil, decision.DefaultLimits(), nil)

	outcome, _, err := eng.CheckDecisionStatus(ctx, args[0])
	if err != nil {
		return fmt.Errorf("finalizing decision: %w", err)
	}

	color.Green("  ✓ Closed %s\n", args[0])
	fmt.Printf("  Decision: %s", outcome.Status)
	if outcome.Number != nil {
		fmt.Printf(" (№%d)", *outcome.Number)
	}
	fmt.Printf(" — %.1f%% of %d voters\n", outcome.Share, outcome.TotalVoters)
	return nil
}

func cmdTemplates(ctx context.Context) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	templates, err := s.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("listing templates: %w", err)
	}

	if len(templates) == 0 {
		fmt.Println("No templates.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tQUESTION\tVARS\tTHRESHOLD\tUSED\tOWNER")
	for _, t := range templates {
		question := t.Question
		if len([]rune(question)) > 40 {
			question = string([]rune(question)[:37]) + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d%%\t%d\t%s\n",
			t.Name, question, len(t.Variables), t.Threshold, t.UsageCount, t.OwnerID)
	}
	return w.Flush()
}

func cmdDeleteTemplate(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: veche-admin delete-template <name>")
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.DeleteTemplate(ctx, args[0]); err != nil {
		return fmt.Errorf("deleting template: %w", err)
	}

	color.Green("  ✓ Deleted template %s\n", args[0])
	return nil
}

func cmdStats(ctx context.Context) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	active, total, err := s.CountPolls(ctx)
	if err != nil {
		return fmt.Errorf("counting polls: %w", err)
	}
	users, err := s.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Stats")
	cyan.Println("  -----")
	fmt.Printf("  Active polls: %d\n", active)
	fmt.Printf("  Total polls:  %d\n", total)
	fmt.Printf("  Users:        %d\n", users)
	fmt.Println()
	return nil
}
