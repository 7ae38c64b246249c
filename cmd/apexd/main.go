package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joshuaaferguson/apex/pkg/daemon"
	"github.com/joshuaaferguson/apex/pkg/executor"
	"github.com/joshuaaferguson/apex/pkg/log"
	"github.com/joshuaaferguson/apex/pkg/store"
	"github.com/joshuaaferguson/apex/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "apexd",
	Short: "apexd runs the task-lifecycle orchestration daemon for one project directory",
	Long: `apexd is a long-running, single-host daemon that drives a queue of
long-lived tasks through a multi-stage workflow, respecting per-interval
capacity limits and surviving process restarts without losing work.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"apexd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("project", ".", "Project directory (expects a .apex/ subdirectory)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("command", "", "Executor command to shell out to for run (defaults to an in-process mock when unset)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(taskCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func newExecutor(cmd *cobra.Command) executor.Executor {
	command, _ := cmd.Flags().GetString("command")
	if command == "" {
		return executor.NewMock()
	}
	return &executor.CommandExecutor{Command: command}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the daemon in the foreground and block until signaled",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectPath, _ := cmd.Flags().GetString("project")

		sup, err := daemon.New(projectPath, newExecutor(cmd))
		if err != nil {
			return fmt.Errorf("failed to wire daemon: %w", err)
		}
		defer sup.Close()

		if err := sup.Start(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}

		fmt.Println("apexd running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		if err := sup.Stop(); err != nil {
			return fmt.Errorf("failed to stop daemon: %w", err)
		}
		fmt.Println("shutdown complete")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the daemon's aggregated status as JSON",
	Long: `status opens the project's store directly and reports task counts and
usage without requiring a running apexd process, since this is a
single-process daemon with no RPC layer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectPath, _ := cmd.Flags().GetString("project")

		sup, err := daemon.New(projectPath, executor.NewMock())
		if err != nil {
			return fmt.Errorf("failed to open project: %w", err)
		}
		defer sup.Close()

		status, err := sup.GetStatus()
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and manage tasks in the project store",
}

var taskLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectPath, _ := cmd.Flags().GetString("project")
		statusFlag, _ := cmd.Flags().GetString("status")

		s, err := openStore(projectPath)
		if err != nil {
			return err
		}
		defer s.Close()

		filter := types.TaskFilter{OrderByPriority: true}
		if statusFlag != "" {
			filter.Status = types.Status(statusFlag)
			filter.HasStatus = true
		}

		tasks, err := s.ListTasks(filter)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tasks)
	},
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new task",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectPath, _ := cmd.Flags().GetString("project")
		workflow, _ := cmd.Flags().GetString("workflow")
		priority, _ := cmd.Flags().GetString("priority")

		s, err := openStore(projectPath)
		if err != nil {
			return err
		}
		defer s.Close()

		input := types.TaskInput{Workflow: workflow, Priority: types.Priority(priority)}
		if input.Priority == "" {
			input.Priority = types.PriorityNormal
		}

		task, err := s.CreateTask(input)
		if err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}
		fmt.Println(task.ID)
		return nil
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel [taskID]",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectPath, _ := cmd.Flags().GetString("project")

		s, err := openStore(projectPath)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.UpdateTaskStatus(args[0], types.StatusCancelled, "", "cancelled via apexd task cancel"); err != nil {
			return fmt.Errorf("failed to cancel task: %w", err)
		}
		fmt.Printf("cancelled %s\n", args[0])
		return nil
	},
}

var taskResumeCmd = &cobra.Command{
	Use:   "resume [taskID]",
	Short: "Manually resume a paused task",
	Long: `resume bypasses the capacity:restored trigger pauseresume.Controller
otherwise waits for, applying the same resume algorithm directly to one
named task (spec.md scenarios S5 and S6).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectPath, _ := cmd.Flags().GetString("project")

		sup, err := daemon.New(projectPath, executor.NewMock())
		if err != nil {
			return fmt.Errorf("failed to open project: %w", err)
		}
		defer sup.Close()

		if err := sup.ResumeTask(args[0]); err != nil {
			return fmt.Errorf("failed to resume task: %w", err)
		}
		fmt.Printf("resumed %s\n", args[0])
		return nil
	},
}

func init() {
	taskLsCmd.Flags().String("status", "", "Filter by status (pending, in-progress, paused, completed, failed, cancelled)")
	taskCreateCmd.Flags().String("workflow", "default", "Workflow name to run the task through")
	taskCreateCmd.Flags().String("priority", "normal", "Priority (urgent, high, normal, low)")

	taskCmd.AddCommand(taskLsCmd)
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskResumeCmd)
}

func openStore(projectPath string) (*store.BoltStore, error) {
	s, err := store.NewBoltStore(projectPath + "/.apex")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return s, nil
}
