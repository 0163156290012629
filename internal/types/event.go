// Package types holds the trigger events and the pipeline definition the
// engine is configured with.
package types

import (
	"fmt"
	"strconv"
	"time"
)

type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
	EventSchedule    EventKind = "schedule"
	EventManual      EventKind = "manual"
)

// Event is an inbound trigger. It is treated as immutable once received.
type Event struct {
	Kind         EventKind `json:"kind"`
	Branch       string    `json:"branch,omitempty"`
	PullRequest  int64     `json:"pull_request,omitempty"`
	Action       string    `json:"action,omitempty"`
	Revision     string    `json:"revision"`
	ManifestHash string    `json:"manifest_hash,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Ref is the branch name, or the pull request number for pull request events.
func (e Event) Ref() string {
	if e.Kind == EventPullRequest {
		return strconv.FormatInt(e.PullRequest, 10)
	}
	return e.Branch
}

// RunGroup is the identity under which runs compete for supersession.
type RunGroup string

func BranchGroup(branch string) RunGroup {
	return RunGroup("branch:" + branch)
}

func PullRequestGroup(number int64) RunGroup {
	return RunGroup(fmt.Sprintf("pr:%d", number))
}

// SingletonGroup is a group that only ever holds one run.
func SingletonGroup(kind EventKind, id string) RunGroup {
	return RunGroup(string(kind) + ":" + id)
}

func (g RunGroup) String() string {
	return string(g)
}
