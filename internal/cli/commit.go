package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docstore/internal/opgen"
	"github.com/roach88/docstore/internal/store"
)

// CommitOptions holds flags for the commit command.
type CommitOptions struct {
	*RootOptions
	Collection string
	ID         string
	Version    int64
	Type       string
	Data       string
	Meta       string
	Op         string
	Delete     bool
}

// CommitResult reports the outcome of one commit.
type CommitResult struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Version    int64           `json:"version"`
	Committed  bool            `json:"committed"`
	Op         json.RawMessage `json:"op"`
}

func (r CommitResult) String() string {
	if r.Committed {
		return fmt.Sprintf("Committed %s/%s at version %d", r.Collection, r.ID, r.Version)
	}
	return fmt.Sprintf("Conflict: %s/%s is not at version %d", r.Collection, r.ID, r.Version-1)
}

// NewCommitCommand creates the commit command.
func NewCommitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CommitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit one op to a document",
		Long: `Commit one op and the resulting snapshot to a document.

--version is the version the document will have after the commit, so the
first commit of a document is version 1. Without --op the op payload is
built for you: a create at version 1, a delete with --delete, and otherwise
an op replacing the whole document with --data.

Exit codes:
  0 - Committed
  1 - Conflict (the document is not at version-1) or store failure
  2 - Command error

Examples:
  docstore commit --collection docs --id readme --version 1 --data '{"title":"draft"}'
  docstore commit --collection docs --id readme --version 2 --data '{"title":"final"}'
  docstore commit --collection docs --id readme --version 3 \
    --op '[{"p":["title"],"od":"final","oi":"done"}]' --data '{"title":"done"}'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommit(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Collection, "collection", "", "document collection")
	cmd.Flags().StringVar(&opts.ID, "id", "", "document id")
	cmd.Flags().Int64Var(&opts.Version, "version", 0, "version the document has after this commit")
	cmd.Flags().StringVar(&opts.Type, "type", "json0", "document type")
	cmd.Flags().StringVar(&opts.Data, "data", "", "document body after the commit, as JSON")
	cmd.Flags().StringVar(&opts.Meta, "meta", "", "snapshot metadata, as JSON")
	cmd.Flags().StringVar(&opts.Op, "op", "", "op components as JSON (built when empty)")
	cmd.Flags().BoolVar(&opts.Delete, "delete", false, "commit a delete")
	cmd.MarkFlagRequired("collection")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("version")

	return cmd
}

func runCommit(ctx context.Context, opts *CommitOptions, cmd *cobra.Command) error {
	if opts.Version < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--version must be at least 1, got %d", opts.Version))
	}
	if opts.Delete && opts.Op != "" {
		return NewExitError(ExitCommandError, "--op and --delete are mutually exclusive")
	}

	payload, snap, err := buildCommit(opts, opgen.NewBuilder(opgen.UUIDv7Generator{}, nil))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid commit", err)
	}

	s, err := opts.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ok, err := s.Commit(ctx, opts.Collection, opts.ID, payload, snap)
	if err != nil {
		if store.IsConnection(err) {
			return WrapExitError(ExitCommandError, "commit failed", err)
		}
		return WrapExitError(ExitFailure, "commit failed", err)
	}

	result := CommitResult{
		Collection: opts.Collection,
		ID:         opts.ID,
		Version:    opts.Version,
		Committed:  ok,
		Op:         payload,
	}
	if err := opts.formatter(cmd).Success(result); err != nil {
		return err
	}
	if !ok {
		return NewExitError(ExitFailure, "version conflict")
	}
	return nil
}

// buildCommit turns the flags into an op payload and the post-commit
// snapshot.
func buildCommit(opts *CommitOptions, b *opgen.Builder) (json.RawMessage, store.Snapshot, error) {
	snap := store.Snapshot{ID: opts.ID, Version: opts.Version}
	if opts.Meta != "" {
		snap.Meta = json.RawMessage(opts.Meta)
	}

	if opts.Delete {
		payload, err := b.Delete(opts.Version)
		return payload, snap, err
	}

	snap.Type = opts.Type
	if opts.Data != "" {
		snap.Data = json.RawMessage(opts.Data)
	}

	var payload json.RawMessage
	var err error
	switch {
	case opts.Op != "":
		payload, err = b.Op(opts.Version, json.RawMessage(opts.Op))
	case opts.Version == 1:
		payload, err = b.Create(snap.Type, snap.Data)
	default:
		payload, err = b.Replace(opts.Version, snap.Data)
	}
	return payload, snap, err
}
