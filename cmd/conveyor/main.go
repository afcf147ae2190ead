package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ldi/conveyor/internal/events"
	"github.com/ldi/conveyor/internal/mcp"
	"github.com/ldi/conveyor/internal/pipeline"
	"github.com/ldi/conveyor/internal/state"
	"github.com/ldi/conveyor/internal/store"
	"github.com/ldi/conveyor/internal/tui"
	"github.com/ldi/conveyor/pkg/models"
)

var (
	projectPath string
	verbose     bool
	logger      zerolog.Logger
)

func main() {
	flag.StringVar(&projectPath, "project", ".", "Path to the project directory")
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "create":
		err = runCreate(args)
	case "list":
		err = runList(args)
	case "show":
		err = runShow(args)
	case "status":
		err = runStatus(args)
	case "run":
		err = runPipeline(args)
	case "approve":
		err = runApprove(args)
	case "reconcile":
		err = runReconcile(args)
	case "mcp":
		err = runMCP(args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: conveyor [flags] <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  create -name <name>     Create a feature record")
	fmt.Println("  list                    List features and their statuses")
	fmt.Println("  show <feature-id>       Print a feature record")
	fmt.Println("  status                  Show feature counts per status")
	fmt.Println("  run <feature-id>        Drive the feature through its pipeline")
	fmt.Println("  approve <feature-id>    Mark a waiting feature verified")
	fmt.Println("  reconcile               Reset features stuck by an abnormal exit")
	fmt.Println("  mcp                     Serve the state manager over MCP stdio")
}

func newManager(emitter events.Emitter) *state.Manager {
	m := state.NewManager(store.New(logger), emitter, logger)
	m.SetStepResolver(pipeline.Resolver{})
	m.SetNotifier(logNotifier{})
	m.SetSpecSyncer(logSyncer{})
	return m
}

// logNotifier and logSyncer stand in for the external notification and
// spec-sync services. The state manager treats them as best-effort either way.
type logNotifier struct{}

func (logNotifier) CreateNotification(_ context.Context, _, featureID string, status models.Status) error {
	logger.Info().Str("feature_id", featureID).Str("status", string(status)).Msg("Notification")
	return nil
}

type logSyncer struct{}

func (logSyncer) SyncFeature(_ context.Context, _, featureID string) error {
	logger.Debug().Str("feature_id", featureID).Msg("Spec sync requested")
	return nil
}

func runCreate(args []string) error {
	createFlags := flag.NewFlagSet("create", flag.ContinueOnError)
	name := createFlags.String("name", "", "Feature name")
	description := createFlags.String("description", "", "Feature description")
	status := createFlags.String("status", string(models.StatusBacklog), "Initial status (backlog or pending)")
	if err := createFlags.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("create requires -name")
	}
	initial := models.Status(*status)
	if initial != models.StatusBacklog && initial != models.StatusPending {
		return fmt.Errorf("initial status must be %s or %s", models.StatusBacklog, models.StatusPending)
	}

	now := time.Now()
	f := &models.Feature{
		ID:          uuid.New().String(),
		Name:        *name,
		Description: *description,
		Status:      initial,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s := store.New(logger)
	if err := s.WriteJSON(store.FeaturePath(projectPath, f.ID), f); err != nil {
		return err
	}
	fmt.Printf("Created feature %s (%s)\n", f.ID, f.Name)
	return nil
}

func runList(args []string) error {
	ids, err := store.ListFeatureIDs(projectPath)
	if err != nil {
		return err
	}

	manager := newManager(events.Nop{})
	ctx := context.Background()

	fmt.Printf("%-38s %-22s %s\n", "ID", "STATUS", "NAME")
	fmt.Println(strings.Repeat("-", 80))
	for _, id := range ids {
		f := manager.LoadFeature(ctx, projectPath, id)
		if f == nil {
			continue
		}
		fmt.Printf("%-38s %-22s %s\n", f.ID, f.Status, f.Name)
	}
	return nil
}

func runShow(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("show requires a feature id")
	}

	manager := newManager(events.Nop{})
	f := manager.LoadFeature(context.Background(), projectPath, args[0])
	if f == nil {
		return fmt.Errorf("feature %s not found", args[0])
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runStatus(args []string) error {
	ids, err := store.ListFeatureIDs(projectPath)
	if err != nil {
		return err
	}

	manager := newManager(events.Nop{})
	ctx := context.Background()

	counts := make(map[models.Status]int)
	for _, id := range ids {
		if f := manager.LoadFeature(ctx, projectPath, id); f != nil {
			counts[f.Status]++
		}
	}

	fmt.Printf("%d feature(s)\n", len(ids))
	for status, n := range counts {
		fmt.Printf("  %-22s %d\n", status, n)
	}
	return nil
}

func runApprove(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("approve requires a feature id")
	}
	featureID := args[0]

	manager := newManager(events.Nop{})
	ctx := context.Background()

	f := manager.LoadFeature(ctx, projectPath, featureID)
	if f == nil {
		return fmt.Errorf("feature %s not found", featureID)
	}
	if f.Status != models.StatusWaitingApproval {
		return fmt.Errorf("feature %s is %s, not waiting_approval", featureID, f.Status)
	}

	manager.UpdateStatus(ctx, projectPath, featureID, models.StatusVerified)

	if f = manager.LoadFeature(ctx, projectPath, featureID); f != nil && f.Status == models.StatusVerified {
		fmt.Printf("Feature %s verified\n", featureID)
		return nil
	}
	return fmt.Errorf("failed to verify feature %s", featureID)
}

func runReconcile(args []string) error {
	bus := events.NewBus()
	defer bus.Close()

	manager := newManager(bus)
	count := manager.ReconcileStuck(context.Background(), projectPath)
	fmt.Printf("Reconciled %d feature(s)\n", count)
	return nil
}

func runMCP(args []string) error {
	manager := newManager(events.Nop{})
	return mcp.Serve(mcp.NewServer(manager, projectPath))
}

func runPipeline(args []string) error {
	runFlags := flag.NewFlagSet("run", flag.ContinueOnError)
	agentCmd := runFlags.String("agent", "claude", "Agent command to invoke per step")
	agentArgs := runFlags.String("agent-args", "-p", "Space-separated arguments for the agent command")
	noTUI := runFlags.Bool("no-tui", false, "Disable the TUI and log to stderr")
	if err := runFlags.Parse(args); err != nil {
		return err
	}
	if runFlags.NArg() == 0 {
		return fmt.Errorf("run requires a feature id")
	}
	featureID := runFlags.Arg(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	bus := events.NewBus()
	manager := newManager(bus)

	// A fresh process means no agent survived from the last one.
	manager.ResetStuck(ctx, projectPath)

	var argList []string
	if *agentArgs != "" {
		argList = strings.Fields(*agentArgs)
	}
	runner := pipeline.NewCLIRunner(*agentCmd, argList, logger)
	orch := pipeline.NewOrchestrator(manager, runner, logger)

	if *noTUI {
		err := orch.Run(ctx, projectPath, featureID)
		bus.Close()
		return err
	}

	model := tui.New(featureID)
	program := tea.NewProgram(model, tea.WithAltScreen())

	sub := bus.Subscribe()
	go func() {
		for e := range sub {
			program.Send(tui.EventMsg(e))
		}
	}()

	// External writers (another conveyor process, an editor) also show up.
	watcher, err := store.WatchFeatures(projectPath, logger)
	if err == nil {
		go watcher.Run(ctx)
		defer watcher.Close()
		go func() {
			m := newManager(events.Nop{})
			for id := range watcher.Changes() {
				if id != featureID {
					continue
				}
				if f := m.LoadFeature(ctx, projectPath, id); f != nil {
					program.Send(tui.EventMsg(events.Envelope{
						Event: events.AutoModeSummary,
						Payload: events.SummaryPayload{
							FeatureID:   id,
							ProjectPath: projectPath,
							Summary:     f.Summary,
						},
					}))
				}
			}
		}()
	} else {
		logger.Warn().Err(err).Msg("Record watcher unavailable")
	}

	errCh := make(chan error, 1)
	go func() {
		runErr := orch.Run(ctx, projectPath, featureID)
		errCh <- runErr
		program.Send(tui.DoneMsg{Err: runErr})
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		return err
	}
	cancel()
	runErr := <-errCh
	bus.Close()
	return runErr
}
