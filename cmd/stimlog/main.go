package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"stimlog/internal/config"
	"stimlog/internal/credentials"
	"stimlog/internal/display"
	"stimlog/internal/storage"
	"stimlog/pkg/client"
)

// exitAborted is the exit status when the login was declined.
const exitAborted = 2

var (
	serverURL  string
	apiKey     string
	configPath string

	stimulus   string
	start      string
	paramsJSON string
	final      bool

	listStimulus string
	listUser     string
	listLimit    int

	applySchema bool
)

func main() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	root := &cobra.Command{
		Use:           "stimlog",
		Short:         "Record stimulus runs in the lab database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:7070", "stimlogd URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("STIMLOG_API_KEY"), "API key")
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Config file for direct database commands")

	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Queue a stimulus run on the daemon",
		Args:  cobra.NoArgs,
		RunE:  runRecord,
	}
	recordCmd.Flags().StringVarP(&stimulus, "stimulus", "s", "", "Stimulus name")
	recordCmd.Flags().StringVar(&start, "start", "", "Start time HH:MM:SS (default now)")
	recordCmd.Flags().StringVarP(&paramsJSON, "params", "p", "[]", "Parameters as a JSON array")
	recordCmd.Flags().BoolVar(&final, "final", false, "Flush the queue after recording")
	recordCmd.MarkFlagRequired("stimulus")
	root.AddCommand(recordCmd)

	root.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Write the daemon's queued records",
		Args:  cobra.NoArgs,
		RunE:  runFlush,
	})

	root.AddCommand(&cobra.Command{
		Use:   "pending",
		Short: "Show the daemon's queued records",
		Args:  cobra.NoArgs,
		RunE:  runPending,
	})

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check daemon health",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent experiment rows from the database",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listStimulus, "stimulus", "", "Only rows for this stimulus")
	listCmd.Flags().StringVar(&listUser, "user", "", "Only rows logged by this user")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum rows")
	root.AddCommand(listCmd)

	root.AddCommand(&cobra.Command{
		Use:   "monitor",
		Short: "Record the current display mode if it changed",
		Args:  cobra.NoArgs,
		RunE:  runMonitor,
	})

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the database schema",
		Args:  cobra.NoArgs,
		RunE:  runSchema,
	}
	schemaCmd.Flags().BoolVar(&applySchema, "apply", false, "Create missing tables instead of printing")
	root.AddCommand(schemaCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if client.IsAborted(err) || errors.Is(err, credentials.ErrUserAborted) {
			os.Exit(exitAborted)
		}
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(serverURL, apiKey)
}

func runRecord(cmd *cobra.Command, _ []string) error {
	// Numbers stay json.Number so large integers reach the daemon unchanged.
	var params []any
	dec := json.NewDecoder(strings.NewReader(paramsJSON))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return fmt.Errorf("--params must be a JSON array: %w", err)
	}
	if dec.More() {
		return errors.New("--params must be a single JSON array")
	}
	if start == "" {
		start = time.Now().Format("15:04:05")
	}

	st, err := newClient().Record(cmd.Context(), stimulus, start, params, final)
	if err != nil {
		return err
	}
	return printJSON(st)
}

func runFlush(cmd *cobra.Command, _ []string) error {
	st, err := newClient().Flush(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(st)
}

func runPending(cmd *cobra.Command, _ []string) error {
	p, err := newClient().Pending(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(p)
}

func runHealth(cmd *cobra.Command, _ []string) error {
	h, err := newClient().Health(cmd.Context())
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return printJSON(h)
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close(context.WithoutCancel(ctx))

	filter := storage.ExperimentFilter{User: listUser, Limit: listLimit}
	if listStimulus != "" {
		id, err := db.StimulusID(ctx, listStimulus)
		if err != nil {
			return err
		}
		filter.StimulusID = &id
	}

	rows, err := db.ListExperiments(ctx, filter)
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []storage.ExperimentRow{}
	}
	return printJSON(rows)
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	q := display.NewQuerier(cfg.Display)
	if q == nil {
		return errors.New("display tracking is disabled (display.source: none)")
	}

	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close(context.WithoutCancel(ctx))

	changed, err := display.Reconcile(ctx, db, q)
	if err != nil {
		return err
	}
	return printJSON(map[string]bool{"changed": changed})
}

func runSchema(cmd *cobra.Command, _ []string) error {
	if !applySchema {
		fmt.Print(storage.Schema)
		return nil
	}

	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close(context.WithoutCancel(ctx))

	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "schema applied")
	return nil
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configPath == "" {
		cfg = config.DefaultConfig()
	} else {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if err := config.LoadEnvFile(cfg.Credentials.EnvFile); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// connect logs in with the configured provider, retrying like a flush does.
func connect(ctx context.Context, cfg *config.Config) (*storage.DB, error) {
	connector := storage.NewConnector(cfg.Database)
	return credentials.Acquire(ctx,
		credentials.NewProvider(cfg.Credentials, os.Stdin, os.Stderr),
		credentials.ConnectFunc[*storage.DB](func(ctx context.Context, c credentials.Credentials) (*storage.DB, error) {
			return connector.Connect(ctx, c.User, c.Password)
		}),
		credentials.Options{MaxAttempts: cfg.Credentials.MaxAttempts},
	)
}

func printJSON(v any) error {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(formatted))
	return nil
}
