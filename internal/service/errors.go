package service

import (
	"fmt"
	"time"
)

// RunCancelError is returned by executors when a run's context was
// cancelled. Cancellation is a run status, not a failure.
type RunCancelError struct {
	Message string
}

func (rce RunCancelError) Error() string {
	return rce.Message
}

// ProvisionError means the workspace for a revision could not be set up.
// The run fails without executing any stage.
type ProvisionError struct {
	Revision string
	Err      error
}

func (pe *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning revision %s: %v", pe.Revision, pe.Err)
}

func (pe *ProvisionError) Unwrap() error {
	return pe.Err
}

type StageFailureError struct {
	Stage    string
	ExitCode int
	Err      error
}

func (sfe *StageFailureError) Error() string {
	return fmt.Sprintf("stage '%s' exited with status %d: %v", sfe.Stage, sfe.ExitCode, sfe.Err)
}

func (sfe *StageFailureError) Unwrap() error {
	return sfe.Err
}

type StageTimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (ste *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage '%s' timed out after %s", ste.Stage, ste.Timeout)
}

// CacheError wraps a cache backend failure. It is logged and degrades to a
// cache miss, it never fails a run.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (ce *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", ce.Op, ce.Key, ce.Err)
}

func (ce *CacheError) Unwrap() error {
	return ce.Err
}
