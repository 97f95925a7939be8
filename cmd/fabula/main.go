package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fabula/internal/agent"
	"fabula/internal/config"
	"fabula/internal/llm"
	"fabula/internal/logging"
	"fabula/internal/memory"
	"fabula/internal/pipeline"
	"fabula/internal/store"
	fabulasync "fabula/internal/sync"
	"fabula/internal/tokens"
	"fabula/internal/types"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "0.1.0"

var (
	// Global flags
	verbose    bool
	configPath string
	storyID    string
	branchID   string

	// Logger for CLI-level output; category loggers handle the core's logs.
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "fabula",
	Short: "fabula - interactive storytelling engine",
	Long: `fabula is a narrative engine for interactive stories.

It assembles tiered world context for each player action, condenses old
story text into chapters, retrieves relevant memory before generating,
and proposes world-model updates through reviewable pending changes.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if err := logging.Initialize("."); err != nil {
			return fmt.Errorf("failed to initialize log files: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate [player action]",
	Short: "Run one generation cycle for a player action",
	Long: `Runs the full generation pipeline for a player action:
  1. Pre-generation: snapshot state into a retry backup
  2. Retrieval: chapter memory and lorebook context, fetched concurrently
  3. Generation: narrator text from the tiered world context

After a successful cycle the new entries are persisted and the chapter
service checks whether old story text should be condensed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

var loreCmd = &cobra.Command{
	Use:   "lore",
	Short: "Run a lore-management pass for a story",
	Long: `Reviews the story's world model with the lore agent. Every proposed
create/update/delete/merge is stored as a pending change for review;
nothing is applied directly.`,
	RunE: runLore,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Host this device's story library for other devices",
	Long: `Starts the sync server on port 55555 and the discovery responder on
UDP 55556. Other devices authenticate with the printed token or its
6-digit connect code. Runs until interrupted.`,
	RunE: runSync,
}

var storiesCmd = &cobra.Command{
	Use:   "stories",
	Short: "List stories in the local library",
	RunE:  runStories,
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&storyID, "story", "", "story ID")
	rootCmd.PersistentFlags().StringVar(&branchID, "branch", "", "story branch ID")

	generateCmd.Flags().String("title", "", "title for a new story when --story is not set")
	generateCmd.Flags().String("genre", "", "genre for a new story")

	rootCmd.AddCommand(generateCmd, loreCmd, syncCmd, storiesCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openEnvironment loads config, the store, and the model client.
func openEnvironment(ctx context.Context) (*config.Config, store.Persistence, types.LLMClient, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	st, err := store.NewLocalStore(cfg.Store.DatabasePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, nil, nil, fmt.Errorf("failed to create model client: %w", err)
	}
	return cfg, st, client, nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, st, client, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	story, err := resolveStory(cmd, st)
	if err != nil {
		return err
	}
	action := strings.Join(args, " ")

	sink := types.EventSink(func(e types.Event) {
		logger.Debug("pipeline event",
			zap.String("type", string(e.Type)),
			zap.String("phase", e.Phase),
			zap.String("correlation", e.CorrelationID))
	})

	p := pipeline.New(cfg, client, st)
	res, err := p.Run(ctx, story, branchID, action, sink)
	if err != nil {
		return err
	}
	if res.Aborted {
		logger.Warn("generation aborted", zap.String("correlation", res.CorrelationID))
		return nil
	}

	counter := tokens.NewTiktokenCounter("cl100k_base")
	now := time.Now()
	playerEntry := &types.StoryEntry{
		ID: uuid.NewString(), StoryID: story.ID, BranchID: branchID,
		Role: types.RolePlayer, Text: action,
		TokenCount: counter.Count(action), Timestamp: now,
	}
	narratorEntry := &types.StoryEntry{
		ID: uuid.NewString(), StoryID: story.ID, BranchID: branchID,
		Role: types.RoleNarrator, Text: res.Text,
		TokenCount: counter.Count(res.Text), Timestamp: now.Add(time.Millisecond),
	}
	if err := st.SaveEntry(playerEntry); err != nil {
		return fmt.Errorf("failed to save player entry: %w", err)
	}
	if err := st.SaveEntry(narratorEntry); err != nil {
		return fmt.Errorf("failed to save narrator entry: %w", err)
	}
	story.UpdatedAt = now
	if err := st.SaveStory(story); err != nil {
		return fmt.Errorf("failed to update story: %w", err)
	}

	fmt.Println(res.Text)

	// Chapter check runs after every committed cycle; failures here never
	// undo the generated entry.
	svc := memory.NewService(cfg.Memory, st, counter,
		memory.NewLLMAnalyzer(client), memory.NewLLMSummarizer(client))
	check, err := svc.CheckAndCreateChapter(ctx, story.ID, branchID)
	if err != nil {
		logger.Warn("chapter check failed", zap.Error(err))
		return nil
	}
	if check.Created {
		logger.Info("chapter created",
			zap.Int("number", check.Chapter.Number),
			zap.String("title", check.Chapter.Title))
	}
	if check.LoreManagementTriggered {
		if err := runLoreManagement(ctx, cfg, st, client, story.ID, check.Chapter); err != nil {
			logger.Warn("lore management failed", zap.Error(err))
		}
	}
	return nil
}

func runLore(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, st, client, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if storyID == "" {
		return fmt.Errorf("--story is required")
	}
	if _, err := st.GetStory(storyID); err != nil {
		return fmt.Errorf("story %s: %w", storyID, err)
	}
	return runLoreManagement(ctx, cfg, st, client, storyID, nil)
}

// runLoreManagement executes one agent pass and persists the proposed
// changes for review.
func runLoreManagement(ctx context.Context, cfg *config.Config, st store.Persistence, client types.LLMClient, storyID string, chapter *types.Chapter) error {
	world, err := st.LoadWorldState(storyID, branchID)
	if err != nil {
		return fmt.Errorf("failed to load world state: %w", err)
	}

	mgr := agent.NewLoreManager(cfg.Agent, client, func(change types.PendingChange) {
		if err := st.SavePendingChange(&change); err != nil {
			logger.Warn("failed to save pending change", zap.Error(err))
		}
	})
	res, err := mgr.Run(ctx, world, chapter)
	if err != nil {
		return err
	}

	logger.Info("lore management complete",
		zap.Int("steps", len(res.Steps)),
		zap.Int("changes", len(res.Changes)),
		zap.String("reason", res.StopReason))
	for _, change := range res.Changes {
		fmt.Printf("pending: %s %s %s\n", change.Action, change.EntityType, change.EntityID)
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, st, _, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	token := uuid.NewString()
	srv := fabulasync.NewServer(st, token, func(e fabulasync.Event) {
		logger.Info("sync event", zap.String("type", e.Type), zap.String("message", e.Message))
	})
	if err := srv.Start(""); err != nil {
		return err
	}

	responder := fabulasync.NewResponder(fabulasync.DiscoveryResponse{
		IP:         localIP(),
		Token:      token,
		Version:    version,
		DeviceName: cfg.Sync.DeviceName,
	})
	if err := responder.Start(""); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Stop(shutdownCtx)
		return err
	}

	// Hot-reload config while the server runs; a changed device name shows
	// up in discovery replies without a restart.
	watchPath := configPath
	if watchPath == "" {
		watchPath = config.DefaultPath()
	}
	watcher, err := config.NewWatcher(watchPath, func(next *config.Config) {
		responder.SetDeviceName(next.Sync.DeviceName)
		logger.Info("config reloaded", zap.String("path", watchPath))
	})
	if err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
	} else {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watcher failed to start", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	fmt.Printf("Sync server on %s\n", srv.Addr())
	fmt.Printf("Token:        %s\n", token)
	fmt.Printf("Connect code: %s\n", fabulasync.ConnectCode(token))

	<-ctx.Done()

	responder.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func runStories(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	st, err := store.NewLocalStore(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	stories, err := st.ListStories()
	if err != nil {
		return err
	}
	if len(stories) == 0 {
		fmt.Println("No stories yet. Start one with: fabula generate --title \"...\" \"your first action\"")
		return nil
	}
	for _, s := range stories {
		fmt.Printf("%s  %s", s.ID, s.Title)
		if s.Genre != "" {
			fmt.Printf("  (%s)", s.Genre)
		}
		fmt.Printf("  updated %s\n", s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

// resolveStory loads the flagged story or creates a new one.
func resolveStory(cmd *cobra.Command, st store.Persistence) (*types.Story, error) {
	if storyID != "" {
		story, err := st.GetStory(storyID)
		if err != nil {
			return nil, fmt.Errorf("story %s: %w", storyID, err)
		}
		return story, nil
	}

	title, _ := cmd.Flags().GetString("title")
	if title == "" {
		return nil, fmt.Errorf("pass --story to continue a story or --title to start one")
	}
	genre, _ := cmd.Flags().GetString("genre")

	story := &types.Story{
		ID:        uuid.NewString(),
		Title:     title,
		Genre:     genre,
		UpdatedAt: time.Now(),
	}
	if err := st.SaveStory(story); err != nil {
		return nil, fmt.Errorf("failed to create story: %w", err)
	}
	logger.Info("created story", zap.String("id", story.ID), zap.String("title", title))
	return story, nil
}

// localIP returns this machine's primary outbound IPv4 address.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
