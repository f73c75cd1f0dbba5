// ABOUTME: Entry point for the veche group-decision bot
// ABOUTME: Wires store, decision engine, wizard and Matrix bridge together

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/veche-bot/veche/internal/bot"
	"github.com/veche-bot/veche/internal/config"
	"github.com/veche-bot/veche/internal/decision"
	"github.com/veche-bot/veche/internal/dedupe"
	"github.com/veche-bot/veche/internal/matrix"
	"github.com/veche-bot/veche/internal/ratelimit"
	"github.com/veche-bot/veche/internal/render"
	"github.com/veche-bot/veche/internal/store"
	"github.com/veche-bot/veche/internal/wizard"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                     _
 __   _____  ___| |__   ___
 \ \ / / _ \/ __| '_ \ / _ \
  \ V /  __/ (__| | | |  __/
   \_/ \___|\___|_| |_|\___|
`

const (
	// pollSweepInterval is how often expired polls are force-closed.
	pollSweepInterval = 10 * time.Minute

	// dedupeCacheSize bounds the in-memory duplicate-question cache.
	dedupeCacheSize = 10000
)

// getConfigPath returns the path to the bot config file.
// Priority: VECHE_CONFIG env var > XDG_CONFIG_HOME/veche/config.yaml > ~/.config/veche/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("VECHE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "veche", "config.yaml")
}

func getMatrixConfigPath() string {
	if envPath := os.Getenv("VECHE_MATRIX_CONFIG"); envPath != "" {
		return envPath
	}
	return matrix.DefaultConfigPath()
}

// getDataPath returns the path to the veche data directory.
// Priority: XDG_DATA_HOME/veche > ~/.local/share/veche
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "veche")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: veche <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the bot")
		fmt.Println("  init      Create config files interactively")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadBotConfig loads the bot config, falling back to defaults when the file
// does not exist. A present-but-broken file is still a hard error.
func loadBotConfig(path string) (*config.Config, bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), false, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()
	matrixConfigPath := getMatrixConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, fromFile, err := loadBotConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	matrixCfg, err := matrix.LoadConfig(matrixConfigPath)
	if err != nil {
		return fmt.Errorf("loading matrix config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	if fromFile {
		fmt.Printf("Config:     %s\n", configPath)
	} else {
		fmt.Printf("Config:     defaults (%s not found)\n", configPath)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", matrixCfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Bot user:   %s\n", matrixCfg.Matrix.UserID)
	fmt.Println()

	logger.Info("starting veche",
		"version", version,
		"db", cfg.Database.Path,
		"homeserver", matrixCfg.Matrix.Homeserver,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	if err := store.SeedDefaultTemplates(ctx, st); err != nil {
		return fmt.Errorf("seeding templates: %w", err)
	}

	duplicates := dedupe.New(cfg.Polls.DuplicateWindow, dedupeCacheSize)
	defer duplicates.Close()

	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.Limit, cfg.RateLimit.MaxUsers, cfg.RateLimit.SweepInterval, logger)
	defer limiter.Close()

	// The bridge is both the bot's outbound sender and the engine's
	// membership checker, so it is built first and linked to the handler
	// once the handler exists.
	bridge, err := matrix.NewBridge(matrixCfg, nil, logger)
	if err != nil {
		return fmt.Errorf("creating matrix bridge: %w", err)
	}

	classifier := decision.NewKeywordClassifier(decision.DefaultLexicon())
	engine := decision.New(st, classifier, duplicates, bridge, decision.Limits{
		MaxQuestionLen:   cfg.Polls.MaxQuestionLen,
		MaxOptionLen:     cfg.Polls.MaxOptionLen,
		MaxOptions:       cfg.Polls.MaxOptions,
		DefaultThreshold: cfg.Polls.DefaultThreshold,
		DuplicateWindow:  cfg.Polls.DuplicateWindow,
	}, logger)

	wiz := wizard.New(st, engine, wizard.Limits{
		MaxQuestionLen: cfg.Polls.MaxQuestionLen,
		MaxOptions:     cfg.Polls.MaxOptions,
	}, logger)

	renderer := render.New(render.Prefs{
		ShowAuthor:         cfg.Display.ShowAuthor,
		ShowDate:           cfg.Display.ShowDate,
		ShowVoteCounts:     cfg.Display.ShowVoteCounts,
		ShowVoterNames:     cfg.Display.ShowVoterNames,
		ShowDecisionStatus: cfg.Display.ShowDecisionStatus,
	})

	handler := bot.NewHandler(st, engine, wiz, renderer, limiter, bridge, logger)
	bridge.SetHandler(handler)

	var wg sync.WaitGroup

	// Idle wizard sessions are swept on a timer so abandoned flows do not
	// accumulate in the database.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.Sessions.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := wiz.SweepIdle(ctx, cfg.Sessions.IdleTimeout, cfg.Sessions.Max); err != nil {
					logger.Warn("session sweep failed", "error", err)
				}
			}
		}
	}()

	// Polls past their lifetime are force-closed so lingering votes cannot
	// reopen a question nobody is watching anymore.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(pollSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				closed, err := engine.CloseExpired(ctx, cfg.Polls.AutoCloseAfter)
				if err != nil {
					logger.Warn("poll expiry sweep failed", "error", err)
				} else if closed > 0 {
					logger.Info("closed expired polls", "count", closed)
				}
			}
		}
	}()

	err = bridge.Run(ctx)
	wg.Wait()
	return err
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("veche configuration setup")
	fmt.Println("=========================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultMatrixPath := getMatrixConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "veche.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Polls
	fmt.Println("\n--- Poll Configuration ---")
	threshold := prompt(reader, "Default decision threshold (percent)", "50")
	autoClose := prompt(reader, "Auto-close polls after", "24h")

	// Display
	fmt.Println("\n--- Display Configuration ---")
	showNamesStr := prompt(reader, "Show voter names on poll cards?", "no")
	showNames := strings.ToLower(showNamesStr) == "yes" || strings.ToLower(showNamesStr) == "y"

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Matrix
	fmt.Println("\n--- Matrix Configuration ---")
	homeserver := prompt(reader, "Homeserver URL", "https://matrix.org")
	botUserID := prompt(reader, "Bot user ID (@bot:example.org)", "")
	accessToken := prompt(reader, "Access token (leave empty to use ${VECHE_MATRIX_TOKEN})", "")
	if accessToken == "" {
		accessToken = "${VECHE_MATRIX_TOKEN}"
	}

	// Generate bot config
	var cfg strings.Builder
	cfg.WriteString("# veche configuration\n")
	cfg.WriteString("# Generated by veche init\n\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("polls:\n")
	cfg.WriteString(fmt.Sprintf("  default_threshold: %s\n", threshold))
	cfg.WriteString("  max_options: 10\n")
	cfg.WriteString(fmt.Sprintf("  auto_close_after: \"%s\"\n", autoClose))
	cfg.WriteString("  duplicate_window: \"1h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("rate_limit:\n")
	cfg.WriteString("  limit: 10\n")
	cfg.WriteString("  window: \"1h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("display:\n")
	cfg.WriteString("  show_vote_counts: true\n")
	cfg.WriteString(fmt.Sprintf("  show_voter_names: %t\n", showNames))
	cfg.WriteString("  show_decision_status: true\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Generate matrix config
	var mcfg strings.Builder
	mcfg.WriteString("# veche Matrix connection\n")
	mcfg.WriteString("# Generated by veche init\n\n")
	mcfg.WriteString("[matrix]\n")
	mcfg.WriteString(fmt.Sprintf("homeserver = \"%s\"\n", homeserver))
	mcfg.WriteString(fmt.Sprintf("user_id = \"%s\"\n", botUserID))
	mcfg.WriteString(fmt.Sprintf("access_token = \"%s\"\n", accessToken))
	mcfg.WriteString("\n[bridge]\n")
	mcfg.WriteString("# allowed_rooms = [\"!room:example.org\"]\n")
	mcfg.WriteString("typing_indicator = true\n")

	matrixDir := filepath.Dir(defaultMatrixPath)
	if err := os.MkdirAll(matrixDir, 0755); err != nil {
		return fmt.Errorf("creating matrix config directory: %w", err)
	}
	// The matrix config may hold a token, keep it private.
	if err := os.WriteFile(defaultMatrixPath, []byte(mcfg.String()), 0600); err != nil {
		return fmt.Errorf("writing matrix config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Matrix config written to %s\n", defaultMatrixPath)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the bot:")
	fmt.Printf("  veche serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
