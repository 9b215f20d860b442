package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/internal/oracle"
	"github.com/ShayCichocki/maestro/internal/supervisor"
	"github.com/ShayCichocki/maestro/pkg/models"
)

var (
	runPlanOnly bool
	runContext  string
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Execute a task from the command line",
	Long: `Execute a single task end to end and print the result.

The task is assessed first: trivial requests return guidance immediately,
simple ones execute directly, and complex ones go through recursive
breakdown with live progress printed as it happens.

Use --plan to see the intended steps without executing anything.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().BoolVar(&runPlanOnly, "plan", false, "Plan the steps without executing")
	runCmd.Flags().StringVar(&runContext, "context", "", "Conversation context to ground the task in")
}

func runTask(cmd *cobra.Command, args []string) error {
	stack, err := buildStack()
	if err != nil {
		return err
	}
	defer stack.close()

	description := strings.Join(args, " ")
	sessionID := uuid.NewString()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	updates, unsubscribe := stack.bus.Subscribe(sessionID)
	defer unsubscribe()

	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		for update := range updates {
			printUpdate(update)
			if update.Type.Terminal() {
				return
			}
		}
	}()

	result := stack.sup.Execute(ctx, supervisor.Request{
		SessionID:           sessionID,
		Description:         description,
		ConversationContext: runContext,
		PlanOnly:            runPlanOnly,
	})
	<-printerDone

	if err := printResult(result); err != nil {
		return err
	}
	printUsage(stack.oracle.Tracker())
	return nil
}

// printUsage renders the oracle call and token totals for the run.
func printUsage(tracker *oracle.TokenTracker) {
	in, out := tracker.Total()
	fmt.Printf("%s %d calls, %d in / %d out tokens\n",
		color.New(color.Faint).Sprint("oracle:"), tracker.Calls(), in, out)
}

// printUpdate renders one progress event for the terminal.
func printUpdate(update models.ProgressUpdate) {
	switch update.Type {
	case models.ProgressStarted:
		fmt.Printf("%s %s\n", color.CyanString("▸"), update.Message)
	case models.ProgressTaskStarted, models.ProgressStepStarted:
		fmt.Printf("  %s %s\n", color.CyanString("→"), update.Message)
	case models.ProgressTaskCompleted:
		fmt.Printf("  %s %s (%d%%)\n", color.GreenString("✓"), update.Message, update.Progress)
	case models.ProgressTaskFailed:
		fmt.Printf("  %s %s\n", color.RedString("✗"), update.Message)
	case models.ProgressTaskBlocked, models.ProgressTaskSkipped:
		fmt.Printf("  %s %s\n", color.YellowString("⚠"), update.Message)
	case models.ProgressError:
		fmt.Printf("%s %s\n", color.RedString("✗"), update.Message)
	case models.ProgressCompleted:
		fmt.Printf("%s %s\n", color.GreenString("✓"), update.Message)
	}
}

// printResult renders the terminal outcome.
func printResult(result *supervisor.Result) error {
	fmt.Println()

	if result.Err != "" {
		return fmt.Errorf("%s", result.Err)
	}

	if result.Delegated {
		fmt.Printf("%s This request is simple enough to handle directly.\n\n", color.YellowString("⚠"))
		fmt.Println(result.Guidance)
		return nil
	}

	if result.Plan != nil {
		fmt.Println(color.New(color.Bold).Sprint("Plan:"))
		for i, step := range result.Plan.Steps {
			fmt.Printf("  %d. %s\n", i+1, step)
		}
		fmt.Printf("\n%s\n", result.Plan.ConfirmationPrompt)
		return nil
	}

	fmt.Println(result.Response)

	if result.Report != nil {
		fmt.Printf("\n%s %d completed, %d failed in %s\n",
			color.New(color.Faint).Sprint("tasks:"),
			result.Report.TasksCompleted,
			result.Report.TasksFailed,
			result.Report.ExecutionTime.Round(time.Millisecond))
	}
	return nil
}
