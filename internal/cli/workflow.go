package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shaiso/Stellara/internal/auth"
	"github.com/shaiso/Stellara/internal/domain"
	"github.com/shaiso/Stellara/internal/repo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewWorkflowCmd создаёт группу команд для управления workflows.
func NewWorkflowCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Manage workflows",
	}

	cmd.AddCommand(
		newWorkflowCreateCmd(backendFn, outputFn),
		newWorkflowListCmd(backendFn, outputFn),
		newWorkflowShowCmd(backendFn, outputFn),
		newWorkflowPublishCmd(backendFn, outputFn),
		newWorkflowCancelCmd(backendFn, outputFn),
		newWorkflowDeleteCmd(backendFn, outputFn),
	)

	return cmd
}

var workflowHeaders = []string{"ID", "NAME", "STATUS", "TRIGGER", "OWNER", "CREATED"}

func workflowRow(wf *domain.Workflow) []string {
	return []string{
		wf.ID.String(),
		wf.Name,
		string(wf.Status),
		wf.Trigger.EventType,
		wf.OwnerID,
		formatTime(&wf.CreatedAt),
	}
}

// LoadDefinition читает определение workflow из YAML или JSON файла.
func LoadDefinition(path string) (*domain.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}

	var wf domain.Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse definition %s: %w", path, err)
	}
	return &wf, nil
}

func newWorkflowCreateCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	var file, owner string
	var publish bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow from a YAML definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			def, err := LoadDefinition(file)
			if err != nil {
				return err
			}

			ctx := auth.WithUserID(cmd.Context(), owner)
			return withBackend(ctx, backendFn, func(b *Backend) error {
				wf, err := b.Workflows.Create(ctx, def)
				if err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Workflow created: %s", wf.ID))

				if publish {
					if err := b.Workflows.Publish(ctx, wf.ID); err != nil {
						return err
					}
					if wf, err = b.Workflows.Get(ctx, wf.ID); err != nil {
						return err
					}
					out.Success("Workflow published")
				}

				out.Print(workflowHeaders, [][]string{workflowRow(wf)}, wf)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Workflow definition file (required)")
	cmd.Flags().StringVar(&owner, "owner", defaultOwner(), "Owner user ID")
	cmd.Flags().BoolVar(&publish, "publish", false, "Publish right after creation")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newWorkflowListCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	var owner, status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			ctx := cmd.Context()

			return withBackend(ctx, backendFn, func(b *Backend) error {
				wfs, err := b.Workflows.List(ctx, repo.WorkflowFilter{
					OwnerID: owner,
					Status:  domain.WorkflowStatus(status),
					Limit:   limit,
				})
				if err != nil {
					return err
				}

				if wfs == nil {
					wfs = []domain.Workflow{}
				}
				rows := make([][]string, len(wfs))
				for i := range wfs {
					rows[i] = workflowRow(&wfs[i])
				}
				out.Print(workflowHeaders, rows, wfs)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Filter by owner")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (DRAFT, ACTIVE, RUNNING, ...)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max results")

	return cmd
}

func newWorkflowShowCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show workflow with its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			ctx := cmd.Context()

			id, err := parseID(args[0])
			if err != nil {
				return fmt.Errorf("invalid workflow ID: %w", err)
			}

			return withBackend(ctx, backendFn, func(b *Backend) error {
				wf, err := b.Workflows.Get(ctx, id)
				if err != nil {
					return err
				}

				out.Print(workflowHeaders, [][]string{workflowRow(wf)}, wf)
				if wf.Error != "" {
					out.Text("\nError: %s\n", wf.Error)
				}
				out.Text("\n")

				rows := make([][]string, len(wf.Steps))
				for i, s := range wf.Steps {
					rows[i] = []string{
						strconv.Itoa(s.Position),
						s.Name,
						s.Type,
						string(s.Status),
						strconv.Itoa(s.Attempts),
						s.Error,
					}
				}
				if !out.jsonMode {
					out.Table([]string{"POS", "STEP", "TYPE", "STATUS", "ATTEMPTS", "ERROR"}, rows)
				}
				return nil
			})
		},
	}
}

func newWorkflowPublishCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	return simpleWorkflowCmd(backendFn, outputFn, "publish ID", "Publish a draft workflow (DRAFT → ACTIVE)", "Workflow published",
		func(b *Backend, cmd *cobra.Command, id string) error {
			uid, err := parseID(id)
			if err != nil {
				return fmt.Errorf("invalid workflow ID: %w", err)
			}
			return b.Workflows.Publish(cmd.Context(), uid)
		})
}

func newWorkflowCancelCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	return simpleWorkflowCmd(backendFn, outputFn, "cancel ID", "Cancel a workflow", "Workflow cancelled",
		func(b *Backend, cmd *cobra.Command, id string) error {
			uid, err := parseID(id)
			if err != nil {
				return fmt.Errorf("invalid workflow ID: %w", err)
			}
			return b.Workflows.Cancel(cmd.Context(), uid)
		})
}

func newWorkflowDeleteCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	return simpleWorkflowCmd(backendFn, outputFn, "delete ID", "Delete a workflow and its history", "Workflow deleted",
		func(b *Backend, cmd *cobra.Command, id string) error {
			uid, err := parseID(id)
			if err != nil {
				return fmt.Errorf("invalid workflow ID: %w", err)
			}
			return b.Workflows.Delete(cmd.Context(), uid)
		})
}

// simpleWorkflowCmd — команда вида "<verb> ID" без вывода данных.
func simpleWorkflowCmd(
	backendFn BackendFunc,
	outputFn func() *Output,
	use, short, done string,
	fn func(b *Backend, cmd *cobra.Command, id string) error,
) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			return withBackend(cmd.Context(), backendFn, func(b *Backend) error {
				if err := fn(b, cmd, args[0]); err != nil {
					return err
				}
				out.Success(done)
				return nil
			})
		},
	}
}

func defaultOwner() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
