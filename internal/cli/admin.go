package cli

import (
	"fmt"
	"strconv"

	"github.com/shaiso/Stellara/internal/ledger"
	"github.com/spf13/cobra"
)

// NewCursorCmd создаёт команды курсора монитора ledger.
func NewCursorCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or move the ledger monitor cursor",
	}
	cmd.PersistentFlags().StringVar(&source, "source", ledger.SourceHorizon, "Ledger source")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the committed cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			ctx := cmd.Context()

			return withBackend(ctx, backendFn, func(b *Backend) error {
				seq, err := b.Cursors.LoadCursor(ctx, source)
				if err != nil {
					return err
				}
				out.Print(
					[]string{"SOURCE", "CURSOR"},
					[][]string{{source, strconv.FormatInt(seq, 10)}},
					map[string]any{"source": source, "cursor": seq},
				)
				return nil
			})
		},
	}

	set := &cobra.Command{
		Use:   "set SEQUENCE",
		Short: "Move the cursor (the monitor must be stopped)",
		Long: "Move the cursor. Events up to and including SEQUENCE will not be delivered.\n" +
			"Moving it backwards replays events; the dedup window absorbs repeats.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			ctx := cmd.Context()

			seq, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || seq < 0 {
				return fmt.Errorf("invalid sequence %q", args[0])
			}

			return withBackend(ctx, backendFn, func(b *Backend) error {
				if err := b.Cursors.ResetCursor(ctx, source, seq); err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Cursor for %s set to %d", source, seq))
				return nil
			})
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}

// NewMigrateCmd создаёт команду применения схемы БД.
func NewMigrateCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			ctx := cmd.Context()

			return withBackend(ctx, backendFn, func(b *Backend) error {
				if b.Migrate == nil {
					return fmt.Errorf("migrations are not available for this backend")
				}
				if err := b.Migrate(ctx); err != nil {
					return err
				}
				out.Success("Schema is up to date")
				return nil
			})
		},
	}
}
