package cli

import (
	"fmt"
	"strconv"

	"github.com/shaiso/Stellara/internal/domain"
	"github.com/spf13/cobra"
)

// NewDLQCmd создаёт группу команд для dead-letter записей.
func NewDLQCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered steps",
	}

	cmd.AddCommand(
		newDLQListCmd(backendFn, outputFn),
		newDLQReplayCmd(backendFn, outputFn),
	)

	return cmd
}

func newDLQListCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	var all bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			ctx := cmd.Context()

			return withBackend(ctx, backendFn, func(b *Backend) error {
				dls, err := b.DeadLetters.ListDeadLetters(ctx, all, limit)
				if err != nil {
					return err
				}

				if dls == nil {
					dls = []domain.DeadLetter{}
				}
				headers := []string{"ID", "WORKFLOW", "STEP", "ATTEMPTS", "REASON", "FAILED", "REPLAYED"}
				rows := make([][]string, len(dls))
				for i, dl := range dls {
					rows[i] = []string{
						dl.ID.String(),
						dl.WorkflowID.String(),
						dl.StepID.String(),
						strconv.Itoa(dl.Attempts),
						dl.Reason,
						formatTime(&dl.FailedAt),
						formatTime(dl.ReplayedAt),
					}
				}
				out.Print(headers, rows, dls)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include replayed entries")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max results")

	return cmd
}

func newDLQReplayCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "replay ID",
		Short: "Requeue a dead-lettered step and resume its workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			ctx := cmd.Context()

			id, err := parseID(args[0])
			if err != nil {
				return fmt.Errorf("invalid dead letter ID: %w", err)
			}

			return withBackend(ctx, backendFn, func(b *Backend) error {
				task, err := b.Workflows.Replay(ctx, id)
				if err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Step %s requeued as task %s", task.StepID, task.ID))
				out.Print(
					[]string{"TASK", "WORKFLOW", "STEP", "AVAILABLE"},
					[][]string{{task.ID.String(), task.WorkflowID.String(), task.StepID.String(), formatTime(&task.AvailableAt)}},
					task,
				)
				return nil
			})
		},
	}
}
