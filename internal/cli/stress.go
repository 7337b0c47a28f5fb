package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/docstore/internal/opgen"
	"github.com/roach88/docstore/internal/store"
)

// StressOptions holds flags for the stress command.
type StressOptions struct {
	*RootOptions
	Collection string
	Docs       int
	Writers    int
	Commits    int
}

// StressResult summarizes a stress run.
type StressResult struct {
	Collection string        `json:"collection"`
	Docs       int           `json:"docs"`
	Writers    int           `json:"writers"`
	Committed  int64         `json:"committed"`
	Conflicts  int64         `json:"conflicts"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Violations []string      `json:"violations,omitempty"`
}

func (r StressResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d commits to %d docs in %s by %d writers (%d conflicts retried)",
		r.Committed, r.Docs, r.Collection, r.Writers, r.Conflicts)
	fmt.Fprintf(&b, "\nElapsed: %s", r.Elapsed.Round(time.Millisecond))
	if len(r.Violations) == 0 {
		b.WriteString("\n✓ every op log is contiguous and matches its snapshot")
		return b.String()
	}
	for _, v := range r.Violations {
		fmt.Fprintf(&b, "\n✗ %s", v)
	}
	return b.String()
}

// NewStressCommand creates the stress command.
func NewStressCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StressOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Race concurrent writers against the commit gate",
		Long: `Race concurrent writers against a set of documents. Each writer reads a
snapshot, commits the next version, and on conflict re-reads and retries.

Afterwards every document is checked: its snapshot version must equal the
number of ops in its log and the op versions must run 1..N without gaps.

Exit codes:
  0 - All invariants hold
  1 - An invariant was violated or a writer failed
  2 - Command error

Examples:
  docstore stress --dsn ./stress.db
  docstore stress --driver postgres --dsn postgres://localhost/docs --writers 32`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Collection, "collection", "", "collection to write to (default: a fresh one)")
	cmd.Flags().IntVar(&opts.Docs, "docs", 4, "number of documents")
	cmd.Flags().IntVar(&opts.Writers, "writers", 8, "number of concurrent writers")
	cmd.Flags().IntVar(&opts.Commits, "commits", 25, "commits per writer")

	return cmd
}

func runStress(ctx context.Context, opts *StressOptions, cmd *cobra.Command) error {
	if opts.Docs < 1 || opts.Writers < 1 || opts.Commits < 1 {
		return NewExitError(ExitCommandError, "--docs, --writers and --commits must be positive")
	}
	fresh := opts.Collection == ""
	if fresh {
		opts.Collection = "stress-" + uuid.Must(uuid.NewV7()).String()
	}

	s, err := opts.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	docs := make([]string, opts.Docs)
	for i := range docs {
		docs[i] = fmt.Sprintf("doc-%d", i)
	}

	var committed, conflicts atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.Writers; w++ {
		b := opgen.NewBuilder(opgen.UUIDv7Generator{}, nil)
		g.Go(func() error {
			for c := 0; c < opts.Commits; c++ {
				id := docs[(w+c)%len(docs)]
				retries, err := commitNext(gctx, s, b, opts.Collection, id, w)
				if err != nil {
					return fmt.Errorf("writer %d: %w", w, err)
				}
				committed.Add(1)
				conflicts.Add(retries)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "stress run failed", err)
	}

	result := StressResult{
		Collection: opts.Collection,
		Docs:       opts.Docs,
		Writers:    opts.Writers,
		Committed:  committed.Load(),
		Conflicts:  conflicts.Load(),
		Elapsed:    time.Since(start),
	}
	var total int64
	result.Violations, total, err = verifyLogs(ctx, s, opts.Collection, docs)
	if err != nil {
		return WrapExitError(ExitFailure, "verification failed", err)
	}
	if fresh && total != result.Committed {
		result.Violations = append(result.Violations,
			fmt.Sprintf("%d commits acknowledged but %d ops logged", result.Committed, total))
	}

	log.WithFields(log.Fields{
		"collection": result.Collection,
		"committed":  result.Committed,
		"conflicts":  result.Conflicts,
		"elapsed":    result.Elapsed,
	}).Info("stress run finished")

	if err := opts.formatter(cmd).Success(result); err != nil {
		return err
	}
	if len(result.Violations) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d invariant violations", len(result.Violations)))
	}
	return nil
}

// commitNext commits one more version of a document, re-reading the
// snapshot after every conflict. It returns the number of conflicts seen.
func commitNext(ctx context.Context, s *store.Store, b *opgen.Builder, collection, id string, writer int) (int64, error) {
	var retries int64
	for {
		snap, err := s.GetSnapshot(ctx, collection, id)
		if err != nil {
			return retries, err
		}

		next := snap.Version + 1
		data, err := json.Marshal(map[string]any{"writer": writer, "n": next})
		if err != nil {
			return retries, err
		}
		var payload json.RawMessage
		if next == 1 {
			payload, err = b.Create("json0", data)
		} else {
			payload, err = b.Replace(next, data)
		}
		if err != nil {
			return retries, err
		}

		ok, err := s.Commit(ctx, collection, id, payload, store.Snapshot{
			ID:      id,
			Version: next,
			Type:    "json0",
			Data:    data,
		})
		if err != nil {
			return retries, err
		}
		if ok {
			return retries, nil
		}
		retries++
	}
}

// verifyLogs checks every document's snapshot against its op log and
// returns the violations found and the total number of ops.
func verifyLogs(ctx context.Context, s *store.Store, collection string, docs []string) ([]string, int64, error) {
	snaps, err := s.GetSnapshotBulk(ctx, collection, docs)
	if err != nil {
		return nil, 0, err
	}

	var violations []string
	var total int64
	for _, id := range docs {
		snap := snaps[id]
		ops, err := s.GetOps(ctx, collection, id, 0, nil)
		if err != nil {
			return nil, 0, err
		}
		total += int64(len(ops))
		if int64(len(ops)) != snap.Version {
			violations = append(violations,
				fmt.Sprintf("%s: snapshot at version %d but %d ops", id, snap.Version, len(ops)))
		}
		for i, op := range ops {
			if op.Version != int64(i+1) {
				violations = append(violations,
					fmt.Sprintf("%s: op %d has version %d", id, i+1, op.Version))
				break
			}
		}
	}
	return violations, total, nil
}
