package service

import (
	"fmt"
	"slices"
	"time"

	"github.com/haatos/verify-ci/internal/store"
	"github.com/haatos/verify-ci/internal/types"
)

const defaultPullRequestAction = "synchronize"

type TriggerPolicy struct {
	ProtectedBranches  []string
	PullRequestActions []string
}

// AdmissionDecision is the outcome of evaluating an event. Rejections carry
// a reason for debug logging only.
type AdmissionDecision struct {
	Admitted bool           `json:"admitted"`
	Reason   string         `json:"reason,omitempty"`
	Group    types.RunGroup `json:"group,omitempty"`
	Run      *store.Run     `json:"run,omitempty"`
}

type TriggerEvaluator struct {
	policy        TriggerPolicy
	uuidGenerator UUIDGenerator
}

func NewTriggerEvaluator(policy TriggerPolicy, uuidGenerator UUIDGenerator) *TriggerEvaluator {
	return &TriggerEvaluator{policy: policy, uuidGenerator: uuidGenerator}
}

// Evaluate decides whether ev starts a run. It has no side effects besides
// constructing the pending run.
func (te *TriggerEvaluator) Evaluate(ev types.Event) AdmissionDecision {
	if ev.Revision == "" {
		return reject("event has no revision")
	}
	if ev.ManifestHash != "" {
		if err := store.ValidateCacheKey(ev.ManifestHash); err != nil {
			return reject(fmt.Sprintf("malformed manifest hash: %v", err))
		}
	}

	var group types.RunGroup
	switch ev.Kind {
	case types.EventPush:
		if !slices.Contains(te.policy.ProtectedBranches, ev.Branch) {
			return reject(fmt.Sprintf("branch '%s' is not protected", ev.Branch))
		}
		group = types.BranchGroup(ev.Branch)
	case types.EventPullRequest:
		action := ev.Action
		if action == "" {
			action = defaultPullRequestAction
		}
		if !slices.Contains(te.policy.PullRequestActions, action) {
			return reject(fmt.Sprintf("pull request action '%s' is ignored", action))
		}
		if ev.PullRequest <= 0 {
			return reject("pull request event has no number")
		}
		group = types.PullRequestGroup(ev.PullRequest)
	case types.EventSchedule, types.EventManual:
		group = types.SingletonGroup(ev.Kind, te.uuidGenerator.GenerateUUID())
	default:
		return reject(fmt.Sprintf("unrecognized event kind '%s'", ev.Kind))
	}

	createdOn := ev.Timestamp
	if createdOn.IsZero() {
		createdOn = time.Now()
	}
	r := &store.Run{
		RunGroup:  group.String(),
		EventKind: string(ev.Kind),
		Ref:       ev.Ref(),
		Revision:  ev.Revision,
		Status:    store.StatusPending,
		CreatedOn: createdOn.UTC(),
	}
	if ev.ManifestHash != "" {
		r.ManifestHash = &ev.ManifestHash
	}
	return AdmissionDecision{Admitted: true, Group: group, Run: r}
}

func reject(reason string) AdmissionDecision {
	return AdmissionDecision{Reason: reason}
}
