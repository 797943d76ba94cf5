package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/openclaw/antfarm/internal/config"
	"github.com/openclaw/antfarm/internal/engine"
	"github.com/openclaw/antfarm/internal/gateway"
	"github.com/openclaw/antfarm/internal/installer"
	"github.com/openclaw/antfarm/internal/models"
	"github.com/openclaw/antfarm/internal/storage"
	"github.com/openclaw/antfarm/internal/tui"
	"github.com/openclaw/antfarm/internal/workspace"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "antfarm",
		Short: "Multi-agent workflow orchestration",
		Long:  "Antfarm coordinates multi-agent software-engineering workflows: agents poll for ready steps, do the work, and report back.",
		RunE:  runDashboard,
	}

	rootCmd.AddCommand(newWorkflowCommand())
	rootCmd.AddCommand(newStepCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newCronCommand())
	rootCmd.AddCommand(newDashboardCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles everything a command needs. Close when done.
type app struct {
	cfg       *config.Config
	store     *storage.Store
	engine    *engine.Engine
	installer *installer.Installer
	gateway   *gateway.Client
	logger    *slog.Logger
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := storage.New(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	bridge := workspace.NewBridge(cfg.WorkflowsDir())
	gw := gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.Token)
	eng := engine.New(store, bridge, logger)
	inst := installer.New(store, bridge, gw, cfg.PollSchedule, logger)

	return &app{cfg: cfg, store: store, engine: eng, installer: inst, gateway: gw, logger: logger}, nil
}

func (a *app) Close() {
	a.store.Close()
}

func runDashboard(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p := tea.NewProgram(tui.NewApp(a.engine), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func newDashboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Open the read-only dashboard",
		RunE:  runDashboard,
	}
}

func newWorkflowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Install and manage workflows",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "install <manifest|dir>",
		Short: "Install a workflow manifest, or every manifest in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if info, err := os.Stat(args[0]); err == nil && info.IsDir() {
				specs, err := a.installer.InstallDir(args[0])
				for _, spec := range specs {
					fmt.Printf("Installed workflow %q (%d agents, %d steps)\n", spec.ID, len(spec.Agents), len(spec.Steps))
				}
				return err
			}

			spec, err := a.installer.Install(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Installed workflow %q (%d agents, %d steps)\n", spec.ID, len(spec.Agents), len(spec.Steps))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall <workflow>",
		Short: "Uninstall a workflow (runs are retained)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.installer.Uninstall(args[0]); err != nil {
				return err
			}
			fmt.Printf("Uninstalled workflow %q\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "update <manifest>",
		Short: "Re-install a workflow spec in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			spec, err := a.installer.Update(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Updated workflow %q\n", spec.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List installed workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			specs, err := a.store.Read().ListWorkflows()
			if err != nil {
				return err
			}
			if len(specs) == 0 {
				fmt.Println("No workflows installed.")
				return nil
			}
			for _, spec := range specs {
				fmt.Printf("%-20s %-30s agents:%d steps:%d\n", spec.ID, spec.Name, len(spec.Agents), len(spec.Steps))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status <workflow>",
		Short: "Show a workflow and its runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			spec, err := a.store.Read().GetWorkflow(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s)\n", spec.Name, spec.ID)
			for _, step := range spec.Steps {
				kind := ""
				if step.Type == models.StepTypeLoop {
					kind = " [loop]"
				}
				fmt.Printf("  %s -> %s%s\n", step.ID, step.Agent, kind)
			}

			runs, err := a.store.Read().ListRunsByWorkflow(spec.ID)
			if err != nil {
				return err
			}
			fmt.Printf("\n%d run(s)\n", len(runs))
			for _, run := range runs {
				fmt.Printf("  #%-3d %-10s %s\n", run.ID, run.Status, run.Task)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run <workflow> <task>",
		Short: "Start a new run of a workflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.engine.StartRun(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Created run #%d (%s)\n", run.ID, run.SessionLabel)
			return nil
		},
	})

	return cmd
}

func newStepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Agent-facing step operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "claim <agent>",
		Short: "Claim the next ready step for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			work, err := a.engine.Claim(args[0])
			if err != nil {
				return err
			}
			if work == nil {
				fmt.Println("null")
				return nil
			}
			return json.NewEncoder(os.Stdout).Encode(work)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "complete <stepId> [output]",
		Short: "Report a step's output (reads stdin when omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			stepID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid step id %q", args[0])
			}

			var output string
			if len(args) == 2 {
				output = args[1]
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read output from stdin: %w", err)
				}
				output = string(data)
			}

			result, err := a.engine.Complete(stepID, output)
			if err != nil {
				return err
			}
			if result != nil {
				fmt.Printf("Step %s recorded as %s\n", result.StepDefID, result.Status)
			} else {
				fmt.Println("Step recorded")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "fail <stepId> <error>",
		Short: "Report that a step failed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			stepID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid step id %q", args[0])
			}
			if err := a.engine.Fail(stepID, args[1]); err != nil {
				return err
			}
			fmt.Println("Failure recorded")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stories <runId>",
		Short: "List a run's stories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			stories, err := a.engine.ListStories(runID)
			if err != nil {
				return err
			}
			for _, s := range stories {
				fmt.Printf("%-8s %-8s retries:%d/%d  %s\n", s.StoryID, s.Status, s.RetryCount, s.MaxRetries, s.Title)
			}
			return nil
		},
	})

	return cmd
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect and control runs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.engine.ListRuns(50)
			if err != nil {
				return err
			}
			for _, run := range runs {
				fmt.Printf("#%-3d %-16s %-10s %s\n", run.ID, run.WorkflowID, run.Status, run.Task)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <runId>",
		Short: "Show a run with its steps and stories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			detail, err := a.engine.GetRun(runID)
			if err != nil {
				return err
			}

			run := detail.Run
			fmt.Printf("Run #%d  %s  %s\n", run.ID, run.WorkflowID, run.Status)
			fmt.Printf("Task: %s\n\n", run.Task)
			for _, step := range detail.Steps {
				fmt.Printf("  %d. %-14s %-8s %s\n", step.StepIndex+1, step.DefID, step.Status, step.AgentID)
			}
			if len(detail.Stories) > 0 {
				fmt.Println()
				for _, s := range detail.Stories {
					fmt.Printf("  %-8s %-8s %s\n", s.StoryID, s.Status, s.Title)
				}
			}
			if v := detail.Context["escalate_to"]; v != "" {
				fmt.Printf("\nEscalated to: %s\n", v)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <runId>",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			if err := a.engine.CancelRun(runID); err != nil {
				return err
			}
			fmt.Printf("Run #%d canceled\n", runID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unblock <runId>",
		Short: "Resume a blocked run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			if err := a.engine.UnblockRun(runID); err != nil {
				return err
			}
			fmt.Printf("Run #%d unblocked\n", runID)
			return nil
		},
	})

	return cmd
}

func newCronCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Cron gateway operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List jobs registered with the cron gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.gateway.Configured() {
				return fmt.Errorf("no cron gateway configured (set gateway.url)")
			}
			result, err := a.gateway.ListJobs()
			if err != nil {
				return err
			}
			os.Stdout.Write(result)
			fmt.Println()
			return nil
		},
	})

	return cmd
}
