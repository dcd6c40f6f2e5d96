// ABOUTME: Operator CLI for inspecting registered domains and agent records
// ABOUTME: Reads the gateway's config and SQLite store directly

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/support-gateway/internal/config"
	"github.com/2389/support-gateway/internal/store"
)

const banner = `
                                      _
 ___ _   _ _ __  _ __   ___  _ __ ___| |_
/ __| | | | '_ \| '_ \ / _ \| '__/ __| __|
\__ \ |_| | |_) | |_) | (_) | |  \__ \ |_
|___/\__,_| .__/| .__/ \___/|_|  |___/\__|
          |_|   |_|              admin
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "domains":
		err = cmdDomains()
	case "agents":
		err = cmdAgents()
	case "sessions":
		err = cmdSessions(args)
	case "kb":
		err = cmdKnowledgeBases(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: support-admin <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  domains              List registered domains")
	fmt.Println("  agents               List agent records with deployment status")
	fmt.Println("  sessions [key]       List recent sessions, optionally for one domain key")
	fmt.Println("  kb <key>             List knowledge bases for a domain key")
}

// getConfigPath mirrors the gateway's config resolution so both binaries
// read the same file.
func getConfigPath() string {
	if envPath := os.Getenv("SUPPORT_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "support-gateway", "gateway.yaml")
}

func openStore() (*store.SQLiteStore, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return store.NewSQLiteStore(cfg.Database.Path)
}

func cmdDomains() error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	domains, err := st.ListDomains(ctx)
	if err != nil {
		return fmt.Errorf("listing domains: %w", err)
	}

	color.Cyan(banner)
	if len(domains) == 0 {
		color.Yellow("  no registered domains")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  DOMAIN\tKEY\tREGISTERED")
	for _, d := range domains {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", d.Name, shortKey(d.Key), d.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func cmdAgents() error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	records, err := st.ListAgentRecords(ctx)
	if err != nil {
		return fmt.Errorf("listing agent records: %w", err)
	}

	color.Cyan(banner)
	if len(records) == 0 {
		color.Yellow("  no agent records")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  KEY\tAGENT\tSTATUS\tKBS\tUPDATED")
	for _, r := range records {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%d\t%s\n",
			shortKey(r.DomainKey),
			r.AgentID,
			statusString(r.Status),
			len(r.KnowledgeBaseIDs),
			r.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func cmdSessions(args []string) error {
	domainKey := ""
	if len(args) > 0 {
		domainKey = args[0]
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	sessions, err := st.ListSessions(ctx, domainKey, 50)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	if len(sessions) == 0 {
		color.Yellow("no sessions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tUSER\tKEY\tSTATUS\tLAST ACTIVITY")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.UserID, shortKey(s.DomainKey), s.Status,
			humanSince(s.LastActivity))
	}
	return w.Flush()
}

func cmdKnowledgeBases(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: support-admin kb <domain-key>")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	kbs, err := st.ListKnowledgeBases(ctx, args[0])
	if err != nil {
		return fmt.Errorf("listing knowledge bases: %w", err)
	}

	if len(kbs) == 0 {
		color.Yellow("no knowledge bases for %s", args[0])
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KB\tLABEL\tCREATED")
	for _, kb := range kbs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", kb.KBID, kb.Label, kb.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// statusString colors deployment status for the terminal.
func statusString(s store.DeploymentStatus) string {
	switch s {
	case store.StatusRunning:
		return color.GreenString(string(s))
	case store.StatusProvisioning:
		return color.YellowString(string(s))
	case store.StatusDegraded:
		return color.New(color.FgYellow, color.Bold).Sprint(string(s))
	case store.StatusFailed:
		return color.RedString(string(s))
	default:
		return color.HiBlackString(string(s))
	}
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

func humanSince(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("2006-01-02")
	}
}
