package service

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/haatos/verify-ci/internal/store"
	"golang.org/x/term"
)

type Reporter interface {
	Report(r *store.Run)
}

// LogReporter writes a one line summary per run and per stage to the
// standard logger.
type LogReporter struct{}

func (LogReporter) Report(r *store.Run) {
	log.Printf(
		"run %d %s %s@%s finished %s in %s\n",
		r.RunID, r.RunGroup, r.Ref, r.Revision, r.Status, runDuration(r),
	)
	for _, res := range r.Results {
		log.Printf("  run %d stage %d %s: %s (%s)\n", r.RunID, res.Position, res.Name, res.Status, res.Duration())
	}
}

// TextReporter prints a summary table, colored when w is a terminal.
type TextReporter struct {
	w       io.Writer
	noColor bool
}

func NewTextReporter(w io.Writer) *TextReporter {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}
	return &TextReporter{w: w, noColor: noColor}
}

func (tr *TextReporter) Report(r *store.Run) {
	bold := tr.color(color.Bold)
	bold.Fprintf(tr.w, "\nRun %d (%s, %s@%s)\n", r.RunID, r.RunGroup, r.Ref, shortRevision(r.Revision))
	for _, res := range r.Results {
		fmt.Fprintf(
			tr.w, "  %-10s %-24s %s\n",
			tr.stageColor(res.Status).Sprint(string(res.Status)),
			res.Name,
			res.Duration().Round(time.Millisecond),
		)
	}
	tr.runColor(r.Status).Fprintf(tr.w, "%s in %s\n", r.Status, runDuration(r))
}

func (tr *TextReporter) color(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if tr.noColor {
		c.DisableColor()
	}
	return c
}

func (tr *TextReporter) stageColor(s store.StageStatus) *color.Color {
	switch s {
	case store.StagePassed:
		return tr.color(color.FgGreen)
	case store.StageFailed, store.StageTimedOut:
		return tr.color(color.FgRed)
	default:
		return tr.color(color.FgYellow)
	}
}

func (tr *TextReporter) runColor(s store.RunStatus) *color.Color {
	switch s {
	case store.StatusPassed:
		return tr.color(color.FgGreen, color.Bold)
	case store.StatusFailed:
		return tr.color(color.FgRed, color.Bold)
	default:
		return tr.color(color.FgCyan, color.Bold)
	}
}

func runDuration(r *store.Run) time.Duration {
	if r.StartedOn == nil || r.EndedOn == nil {
		return 0
	}
	return r.EndedOn.Sub(*r.StartedOn).Round(time.Millisecond)
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
