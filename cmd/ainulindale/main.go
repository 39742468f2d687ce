// Command ainulindale is the CLI for the Ainulindale spatial orchestrator.
//
// Usage:
//
//	ainulindale run --board board.yaml
//	ainulindale run --board board.yaml --store bolt --db ainulindale.db
//	ainulindale validate --board board.yaml
//	ainulindale schema
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/ainulindale/internal/actor"
	"github.com/kadirpekel/ainulindale/internal/board"
	"github.com/kadirpekel/ainulindale/internal/boardconfig"
	"github.com/kadirpekel/ainulindale/internal/budget"
	"github.com/kadirpekel/ainulindale/internal/eventbus"
	"github.com/kadirpekel/ainulindale/internal/llm"
	"github.com/kadirpekel/ainulindale/internal/mockllm"
	"github.com/kadirpekel/ainulindale/internal/obslog"
	"github.com/kadirpekel/ainulindale/internal/obsmetrics"
	"github.com/kadirpekel/ainulindale/internal/plugin"
	"github.com/kadirpekel/ainulindale/internal/plugin/filesystem"
	"github.com/kadirpekel/ainulindale/internal/plugin/shell"
	"github.com/kadirpekel/ainulindale/internal/plugin/tasklist"
	"github.com/kadirpekel/ainulindale/internal/rulefile"
	"github.com/kadirpekel/ainulindale/internal/runner"
	"github.com/kadirpekel/ainulindale/internal/store"
	"github.com/kadirpekel/ainulindale/internal/truncate"
	"github.com/kadirpekel/ainulindale/internal/workqueue"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Run      RunCmd      `cmd:"" help:"Start a board and run it until stopped or budget-exceeded."`
	Validate ValidateCmd `cmd:"" help:"Validate a board definition file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the built-in plugins' JSON Schemas."`

	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("ainulindale version %s\n", version)
	return nil
}

// ValidateCmd parses a board definition file and reports any error without
// starting it.
type ValidateCmd struct {
	Board string `short:"b" required:"" help:"Path to board YAML definition." type:"path"`
}

func (c *ValidateCmd) Run() error {
	cfg, err := boardconfig.Load(c.Board)
	if err != nil {
		return err
	}
	b, err := boardconfig.Build(cfg)
	if err != nil {
		return err
	}
	fmt.Printf("board %q valid: radius=%d entities=%d connections=%d projected_cost=%.2f\n",
		b.ID(), b.Radius(), len(b.Entities()), len(b.Connections()), b.ProjectedCost())
	return nil
}

// SchemaCmd prints each built-in plugin's config schema and tool
// definitions, useful for authoring board YAML files.
type SchemaCmd struct{}

func (c *SchemaCmd) Run() error {
	reg := plugin.NewRegistry()
	for _, p := range []plugin.Plugin{filesystem.New(), shell.New(), tasklist.New(tasklist.NewStore(nil))} {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	for _, p := range reg.All() {
		fmt.Printf("# %s (%s)\n", p.ID(), p.Name())
		fmt.Printf("config_schema: %v\n", p.ConfigSchema())
		for _, t := range p.Tools() {
			fmt.Printf("  - %s [%s]: %s\n", t.Name, t.Permission, t.Description)
		}
		fmt.Println()
	}
	return nil
}

// RunCmd starts a board, wires its ambient stack, and runs until stopped
// (Ctrl+C) or the Budget Tracker halts it.
type RunCmd struct {
	Board        string        `short:"b" required:"" help:"Path to board YAML definition." type:"path"`
	RulefilesDir string        `name:"rulefiles" help:"Directory of rulefile YAML files to load." type:"path"`
	Store        string        `help:"Persistence backend: memory or bolt." default:"memory" enum:"memory,bolt"`
	DB           string        `help:"Bolt database path (required when --store=bolt)." type:"path"`
	SaveDebounce time.Duration `name:"save-debounce" help:"Per-entity persistence debounce window." default:"1s"`
	MaxDollars   float64       `name:"max-dollars" help:"Budget ceiling in dollars (0 = unlimited)."`
	MaxTokens    int           `name:"max-tokens" help:"Budget ceiling in tokens (0 = unlimited)."`
	Provider     string        `help:"LLM provider for agent actors: mock (scripted, no network) or none (agents never run)." default:"mock" enum:"mock,none"`
	Metrics      bool          `help:"Expose Prometheus metrics."`
	MetricsAddr  string        `name:"metrics-addr" help:"Address to serve /metrics on." default:":9090"`
	Task         []string      `help:"Seed a task onto the board's tasklist before start, \"title\" or \"title|description\". Repeatable."`
	Workspace    string        `help:"Workspace root for the filesystem plugin." type:"path"`
	ShellEnabled bool          `name:"shell" help:"Enable the shell plugin (disabled by default, per its own safety denylist)."`
}

func (c *RunCmd) Run(cli *CLI) error {
	level, err := obslog.ParseLevel(cli.LogLevel)
	if err != nil {
		return err
	}
	obslog.Init(level, os.Stderr)
	log := obslog.GetLogger()

	cfg, err := boardconfig.Load(c.Board)
	if err != nil {
		return err
	}
	b, err := boardconfig.Build(cfg)
	if err != nil {
		return err
	}
	pluginConfigs, err := boardconfig.PluginConfigs(cfg)
	if err != nil {
		return err
	}
	if c.Workspace != "" {
		if pluginConfigs["filesystem"] == nil {
			pluginConfigs["filesystem"] = map[string]any{}
		}
		pluginConfigs["filesystem"]["working_directory"] = c.Workspace
	}

	rulefiles := map[string]rulefile.Rulefile{}
	if c.RulefilesDir != "" {
		rulefiles, err = rulefile.LoadDir(c.RulefilesDir)
		if err != nil {
			return err
		}
	}

	var backend store.Store
	switch c.Store {
	case "bolt":
		if c.DB == "" {
			return fmt.Errorf("--db is required with --store=bolt")
		}
		backend, err = store.OpenBolt(c.DB)
		if err != nil {
			return fmt.Errorf("open bolt store: %w", err)
		}
	default:
		backend = store.NewMemory()
	}
	defer backend.Close()
	saver := store.NewDebouncedSaver(backend, c.SaveDebounce)

	bus := eventbus.New(log)
	handles := truncate.NewHandleStore(256)

	metrics := obsmetrics.New("ainulindale", c.Metrics)
	if metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: c.MetricsAddr, Handler: mux}
		go func() {
			log.Info("serving metrics", "addr", c.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", "error", err)
			}
		}()
		wireMetrics(bus, metrics)
	}

	registry := plugin.NewRegistry()
	if err := registry.Register(filesystem.New()); err != nil {
		return err
	}
	if c.ShellEnabled {
		if err := registry.Register(shell.New()); err != nil {
			return err
		}
	}

	tasklistStore := tasklist.NewStore(func(evt string, data any) {
		bus.Publish(eventbus.Event{Type: evt, BoardID: b.ID(), Data: data})
	})
	if err := registry.Register(tasklist.New(tasklistStore)); err != nil {
		return err
	}

	budgetTracker := budget.NewTracker(c.MaxDollars, c.MaxTokens, func(evt string, data any) {
		bus.Publish(eventbus.Event{Type: evt, BoardID: b.ID(), Data: data})
	})

	var providerFactory runner.ProviderFactory
	switch c.Provider {
	case "mock":
		providerFactory = func(*board.AgentEntity) (llm.Provider, error) {
			return mockllm.NewEcho("TASK_COMPLETE:"), nil
		}
	default:
		providerFactory = func(a *board.AgentEntity) (llm.Provider, error) {
			return nil, fmt.Errorf("no llm.Provider configured for agent %s (run with --provider=mock for a dry run)", a.ID)
		}
	}

	bus.Subscribe("hex.status", func(evt eventbus.Event) {
		log.Info("hex.status", "hex", evt.HexID, "data", evt.Data)
	})
	bus.Subscribe("budget.warning", func(evt eventbus.Event) {
		log.Warn("budget warning", "data", evt.Data)
	})
	run := &runner.Runner{
		Board:           b,
		Registry:        registry,
		Bus:             bus,
		Tasklist:        tasklistStore,
		Budget:          budgetTracker,
		Saver:           saver,
		Handles:         handles,
		ProviderFactory: providerFactory,
		Rulefiles:       func(id string) (rulefile.Rulefile, bool) { rf, ok := rulefiles[id]; return rf, ok },
		PluginConfigs:   pluginConfigs,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Subscribe("budget.exceeded", func(evt eventbus.Event) {
		log.Error("budget exceeded, stopping board", "data", evt.Data)
		cancel()
	})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	if err := run.Start(ctx); err != nil {
		return err
	}
	log.Info("board started", "board", b.ID(), "entities", len(b.Entities()))

	for _, spec := range c.Task {
		title, description := splitTask(spec)
		tasklistStore.Add(title, description, tasklist.PriorityNormal)
	}

	<-ctx.Done()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := run.Stop(stopCtx); err != nil {
		return err
	}
	log.Info("board stopped", "board", b.ID())
	return nil
}

// splitTask parses a --task flag's "title" or "title|description" form.
func splitTask(spec string) (title, description string) {
	if i := strings.IndexByte(spec, '|'); i >= 0 {
		return spec[:i], spec[i+1:]
	}
	return spec, ""
}

// wireMetrics subscribes a Metrics collector to the events that carry the
// state it tracks, since the engine interior never imports obsmetrics
// directly (spec §9 keeps the engine interior decoupled from its own
// ambient observability).
func wireMetrics(bus *eventbus.Bus, metrics *obsmetrics.Metrics) {
	bus.Subscribe("hex.status", func(evt eventbus.Event) {
		se, ok := evt.Data.(actor.StatusEvent)
		if !ok {
			return
		}
		metrics.RecordActorTransition(se.EntityID, string(se.From), string(se.To))
	})
	bus.Subscribe("budget.warning", func(evt eventbus.Event) { recordBudget(metrics, evt) })
	bus.Subscribe("budget.exceeded", func(evt eventbus.Event) { recordBudget(metrics, evt) })

	// Queue-depth gauges are kept by counting the events themselves: the
	// bus is the only interface this side of the engine boundary.
	var mu sync.Mutex
	workDepth := map[string]int{}
	taskDepth := map[string]int{}

	bus.Subscribe("work.received", func(evt eventbus.Event) {
		mu.Lock()
		workDepth[evt.HexID]++
		depth := workDepth[evt.HexID]
		mu.Unlock()
		metrics.SetWorkQueueDepth(evt.HexID, depth)
	})
	bus.Subscribe("work.completed", func(evt eventbus.Event) {
		mu.Lock()
		if workDepth[evt.HexID] > 0 {
			workDepth[evt.HexID]--
		}
		depth := workDepth[evt.HexID]
		mu.Unlock()
		metrics.SetWorkQueueDepth(evt.HexID, depth)

		data, ok := evt.Data.(map[string]any)
		if !ok {
			return
		}
		pluginID, _ := data["plugin_id"].(string)
		operation, _ := data["operation"].(string)
		var duration time.Duration
		if item, ok := data["item"].(*workqueue.WorkItem); ok && item.ClaimedAt != nil && item.CompletedAt != nil {
			duration = item.CompletedAt.Sub(*item.ClaimedAt)
		}
		metrics.RecordToolCall(pluginID, operation, duration)
		if code, _ := data["error_code"].(string); code != "" {
			metrics.RecordToolError(pluginID, operation, code)
		}
	})

	countTasks := func(pendingDelta, processingDelta int) {
		mu.Lock()
		taskDepth["pending"] += pendingDelta
		taskDepth["processing"] += processingDelta
		pending, processing := taskDepth["pending"], taskDepth["processing"]
		mu.Unlock()
		metrics.SetTaskQueueDepth("pending", pending)
		metrics.SetTaskQueueDepth("processing", processing)
	}
	bus.Subscribe("tasks.available", func(eventbus.Event) { countTasks(+1, 0) })
	bus.Subscribe("task.claimed", func(eventbus.Event) { countTasks(-1, +1) })
	bus.Subscribe("task.released", func(eventbus.Event) { countTasks(+1, -1) })
	bus.Subscribe("task.completed", func(eventbus.Event) { countTasks(0, -1) })
}

func recordBudget(metrics *obsmetrics.Metrics, evt eventbus.Event) {
	data, ok := evt.Data.(map[string]any)
	if !ok {
		return
	}
	totalDollars, _ := data["total_dollars"].(float64)
	totalTokens, _ := data["total_tokens"].(int)
	metrics.SetBudget(totalDollars, 0, totalTokens, 0)
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("ainulindale"),
		kong.Description("Ainulindale - spatial orchestrator for a swarm of LLM agents"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
