package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docstore/internal/store"
)

// DocOptions holds the flags that address one document.
type DocOptions struct {
	*RootOptions
	Collection string
	ID         string
}

func (o *DocOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Collection, "collection", "", "document collection")
	cmd.Flags().StringVar(&o.ID, "id", "", "document id")
	cmd.MarkFlagRequired("collection")
	cmd.MarkFlagRequired("id")
}

// SnapshotResult wraps a snapshot for text output.
type SnapshotResult struct {
	Collection string         `json:"collection"`
	Snapshot   store.Snapshot `json:"snapshot"`
}

func (r SnapshotResult) String() string {
	s := r.Snapshot
	if !s.Exists() {
		return fmt.Sprintf("%s/%s has no commits (version 0)", r.Collection, s.ID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s version %d", r.Collection, s.ID, s.Version)
	if s.Type != "" {
		fmt.Fprintf(&b, " type %s", s.Type)
	}
	if s.Data != nil {
		fmt.Fprintf(&b, "\n  data: %s", s.Data)
	} else {
		b.WriteString("\n  deleted")
	}
	if s.Meta != nil {
		fmt.Fprintf(&b, "\n  meta: %s", s.Meta)
	}
	return b.String()
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DocOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the current snapshot of a document",
		Long: `Print the current snapshot of a document. A document that was never
committed prints as version 0.

Examples:
  docstore snapshot --collection docs --id readme
  docstore snapshot --collection docs --id readme --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd.Context(), opts, cmd)
		},
	}
	opts.bind(cmd)

	return cmd
}

func runSnapshot(ctx context.Context, opts *DocOptions, cmd *cobra.Command) error {
	s, err := opts.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	snap, err := s.GetSnapshot(ctx, opts.Collection, opts.ID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read snapshot", err)
	}
	return opts.formatter(cmd).Success(SnapshotResult{Collection: opts.Collection, Snapshot: snap})
}

// OpsOptions holds flags for the ops command.
type OpsOptions struct {
	DocOptions
	From int64
	To   int64
}

// OpsResult lists the ops read from a document.
type OpsResult struct {
	Collection string     `json:"collection"`
	ID         string     `json:"id"`
	Ops        []store.Op `json:"ops"`
}

func (r OpsResult) String() string {
	if len(r.Ops) == 0 {
		return fmt.Sprintf("No ops in range for %s/%s", r.Collection, r.ID)
	}
	var b strings.Builder
	for i, op := range r.Ops {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "v%d %s", op.Version, op.Payload)
	}
	return b.String()
}

// NewOpsCommand creates the ops command.
func NewOpsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OpsOptions{DocOptions: DocOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Print a range of a document's op log",
		Long: `Print the ops of a document with from < version <= to, oldest first.

Examples:
  docstore ops --collection docs --id readme
  docstore ops --collection docs --id readme --from 2 --to 4`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOps(cmd.Context(), opts, cmd)
		},
	}
	opts.bind(cmd)
	cmd.Flags().Int64Var(&opts.From, "from", 0, "exclusive lower version bound")
	cmd.Flags().Int64Var(&opts.To, "to", -1, "inclusive upper version bound (-1 for latest)")

	return cmd
}

func runOps(ctx context.Context, opts *OpsOptions, cmd *cobra.Command) error {
	var to *int64
	if opts.To >= 0 {
		to = &opts.To
	}

	s, err := opts.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ops, err := s.GetOps(ctx, opts.Collection, opts.ID, opts.From, to)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read ops", err)
	}
	return opts.formatter(cmd).Success(OpsResult{Collection: opts.Collection, ID: opts.ID, Ops: ops})
}
