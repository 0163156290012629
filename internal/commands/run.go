package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/haatos/verify-ci/internal/service"
	"github.com/haatos/verify-ci/internal/store"
	"github.com/haatos/verify-ci/internal/types"
)

type runOptions struct {
	event        string
	branch       string
	revision     string
	pullRequest  int64
	action       string
	manifestHash string
}

func (o runOptions) toEvent(now time.Time) (types.Event, error) {
	kind := types.EventKind(o.event)
	switch kind {
	case types.EventPush, types.EventSchedule, types.EventManual:
		if o.branch == "" {
			return types.Event{}, fmt.Errorf("--branch is required for %s events", kind)
		}
	case types.EventPullRequest:
		if o.pullRequest <= 0 {
			return types.Event{}, errors.New("--pr is required for pull_request events")
		}
	default:
		return types.Event{}, fmt.Errorf("unsupported event kind: %s", o.event)
	}
	if o.revision == "" {
		return types.Event{}, errors.New("--revision is required")
	}
	if o.manifestHash != "" {
		if err := store.ValidateCacheKey(o.manifestHash); err != nil {
			return types.Event{}, fmt.Errorf("--manifest-hash: %w", err)
		}
	}
	return types.Event{
		Kind:         kind,
		Branch:       o.branch,
		PullRequest:  o.pullRequest,
		Action:       o.action,
		Revision:     o.revision,
		ManifestHash: o.manifestHash,
		Timestamp:    now.UTC(),
	}, nil
}

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Verify a revision and exit with the outcome of its run",
		Long: `Run admits the event, supersedes older runs of its group and runs every
stage in the current process. Stage output is streamed to stdout.

Exit codes: 0 passed or not admitted, 1 failed, 2 internal or provisioning
error, 3 cancelled.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := opts.toEvent(time.Now())
			if err != nil {
				return err
			}
			return runEvent(cmd, ev)
		},
	}
	cmd.Flags().StringVar(&opts.event, "event", "", "event kind: push, pull_request, schedule or manual")
	cmd.Flags().StringVar(&opts.branch, "branch", "", "branch the event refers to")
	cmd.Flags().StringVar(&opts.revision, "revision", "", "commit to verify")
	cmd.Flags().Int64Var(&opts.pullRequest, "pr", 0, "pull request number")
	cmd.Flags().StringVar(&opts.action, "action", "", "pull request action")
	cmd.Flags().StringVar(&opts.manifestHash, "manifest-hash", "", "dependency manifest hash, computed when empty")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("revision")
	return cmd
}

func runEvent(cmd *cobra.Command, ev types.Event) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	eng, err := newEngine(ctx, out, service.NewTextReporter(out))
	if err != nil {
		return err
	}
	defer eng.close()

	decision, r, err := eng.pipelines.TriggerAndWait(ctx, ev)
	if !decision.Admitted && err == nil {
		color.Yellow("Event not admitted: %s", decision.Reason)
		return nil
	}
	if err != nil {
		return &ExitError{Code: ExitInternal, Err: err}
	}
	return runResult(r)
}

func runResult(r *store.Run) error {
	switch r.Status {
	case store.StatusPassed:
		return nil
	case store.StatusFailed:
		return &ExitError{Code: ExitFailed, Err: fmt.Errorf("run %d failed", r.RunID)}
	case store.StatusCancelled:
		return &ExitError{Code: ExitCancelled, Err: fmt.Errorf("run %d was cancelled", r.RunID)}
	default:
		return &ExitError{
			Code: ExitInternal,
			Err:  fmt.Errorf("run %d ended in status %s", r.RunID, r.Status),
		}
	}
}
