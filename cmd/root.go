package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/scrum/internal/attachment"
	"github.com/joescharf/scrum/internal/metrics"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/notify"
	"github.com/joescharf/scrum/internal/output"
	"github.com/joescharf/scrum/internal/sprint"
	"github.com/joescharf/scrum/internal/store"
	"github.com/joescharf/scrum/internal/story"
	"github.com/joescharf/scrum/internal/team"
	"github.com/joescharf/scrum/internal/workflow"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *slog.Logger
	dataStore store.Store

	verbose bool
	dryRun  bool
	actorAs string
)

var rootCmd = &cobra.Command{
	Use:   "scrum",
	Short: "Scrum - user stories, sprints and approvals for small teams",
	Long: `scrum tracks projects, their team members and roles, the workflows
user stories move through, and the sprints they are scheduled in.

Every change is checked against the acting user's permissions. Pick the
acting user with --as or the "actor" config key.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return statusOverviewRun()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().StringVar(&actorAs, "as", "", "Act as this user (username or ID; default: actor config key)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/scrum/config.yaml)")
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".config", "scrum"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SCRUM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key so `config show` can list them.
func setDefaults() {
	dir, _ := configDirFunc()

	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "scrum.db"))
	viper.SetDefault("attachments_dir", filepath.Join(dir, "attachments"))
	viper.SetDefault("port", 8080)
	viper.SetDefault("actor", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("mail.transport", "log")
	viper.SetDefault("mail.host", "localhost")
	viper.SetDefault("mail.port", 587)
	viper.SetDefault("mail.username", "")
	viper.SetDefault("mail.password", "")
	viper.SetDefault("mail.from", "noreply@localhost")
	viper.SetDefault("mail.domain", "localhost:8080")
	viper.SetDefault("mail.max_attempts", 3)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	logger = newLogger(viper.GetString("log.level"), verbose)
	slog.SetDefault(logger)

	// The store is opened lazily so config commands run without a database.
}

// newLogger builds the text logger used by the services. --verbose forces debug.
func newLogger(level string, debug bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	if debug {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// app bundles the workflow services over one store.
type app struct {
	store       store.Store
	team        *team.Manager
	flows       *workflow.Graph
	stories     *story.Service
	sprints     *sprint.Allocator
	metrics     *metrics.Calculator
	attachments *attachment.Service
	notifier    *notify.Coordinator
}

// newApp wires the services. pub may be nil when nothing subscribes to events.
func newApp(pub notify.Publisher) (*app, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}

	opts := []notify.Option{
		notify.WithFrom(viper.GetString("mail.from")),
		notify.WithDomain(viper.GetString("mail.domain")),
		notify.WithLogger(logger),
	}
	if pub != nil {
		opts = append(opts, notify.WithPublisher(pub))
	}
	coord := notify.NewCoordinator(s, mailTransport(), opts...)

	bytes, err := attachment.NewFileStore(viper.GetString("attachments_dir"))
	if err != nil {
		return nil, err
	}

	return &app{
		store:       s,
		team:        team.NewManager(s, logger),
		flows:       workflow.New(s, logger),
		stories:     story.NewService(s, logger, story.WithNotifier(coord), story.WithBlobRemover(bytes)),
		sprints:     sprint.NewAllocator(s, coord, logger),
		metrics:     metrics.NewCalculator(s),
		attachments: attachment.NewService(s, bytes, logger),
		notifier:    coord,
	}, nil
}

// mailTransport picks the configured notification transport.
func mailTransport() notify.Transport {
	switch viper.GetString("mail.transport") {
	case "smtp":
		return notify.NewSMTPTransport(notify.SMTPConfig{
			Host:        viper.GetString("mail.host"),
			Port:        viper.GetInt("mail.port"),
			Username:    viper.GetString("mail.username"),
			Password:    viper.GetString("mail.password"),
			MaxAttempts: viper.GetInt("mail.max_attempts"),
		})
	case "none":
		return nil
	default:
		return notify.NewLogTransport(logger)
	}
}

// currentActor resolves --as, falling back to the actor config key.
func currentActor(ctx context.Context, s store.Store) (*models.User, error) {
	name := actorAs
	if name == "" {
		name = viper.GetString("actor")
	}
	if name == "" {
		return nil, fmt.Errorf("no acting user: pass --as <user> or set actor in the config file")
	}
	return resolveUser(ctx, s, name)
}

// resolveUser finds a user by username, then by ID.
func resolveUser(ctx context.Context, s store.Store, name string) (*models.User, error) {
	if u, err := s.GetUserByUsername(ctx, name); err == nil {
		return u, nil
	}
	if u, err := s.GetUser(ctx, name); err == nil {
		return u, nil
	}
	return nil, fmt.Errorf("user not found: %s", name)
}

// resolveProject finds a project by short name, then by ID.
func resolveProject(ctx context.Context, s store.Store, name string) (*models.Project, error) {
	if p, err := s.GetProjectByName(ctx, name); err == nil {
		return p, nil
	}
	if p, err := s.GetProject(ctx, name); err == nil {
		return p, nil
	}
	return nil, fmt.Errorf("project not found: %s", name)
}

// resolveRole finds a role by name, then by ID.
func resolveRole(ctx context.Context, s store.Store, name string) (*models.Role, error) {
	if r, err := s.GetRoleByName(ctx, name); err == nil {
		return r, nil
	}
	if r, err := s.GetRole(ctx, name); err == nil {
		return r, nil
	}
	return nil, fmt.Errorf("role not found: %s", name)
}
