package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/medocr/docflow/workflow"
)

func renderRun(w io.Writer, res *workflow.RunResult) {
	fmt.Fprintf(w, "Run %s  workflow=%s  document=%s  org=%s\n",
		res.RunID, res.WorkflowID, res.DocumentID, res.OrgID)
	fmt.Fprintf(w, "Outcome: %s (%s)\n", res.Outcome, formatElapsed(res.FinishedAt.Sub(res.StartedAt)))
	if res.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", res.Error)
	}
	if len(res.Steps) == 0 {
		fmt.Fprintln(w, "No steps executed.")
		return
	}

	rows := make([][]string, 0, len(res.Steps))
	for _, s := range res.Steps {
		detail := s.Error
		if s.Label != "" {
			detail = joinNonEmpty("label="+s.Label, detail)
		}
		if s.Suspended {
			detail = joinNonEmpty(detail, "awaiting review")
		}
		rows = append(rows, []string{
			strconv.Itoa(s.Sequence),
			s.StepID,
			s.StepType,
			string(s.Status),
			strconv.Itoa(s.Attempts),
			formatElapsed(s.Duration()),
			detail,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"#", "Step", "Type", "Status", "Attempts", "Elapsed", "Detail"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))
}

func renderRunList(w io.Writer, runs []*workflow.RunResult) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs.")
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.RunID.String(),
			r.WorkflowID,
			r.DocumentID,
			string(r.Outcome),
			strconv.Itoa(len(r.Steps)),
			r.StartedAt.UTC().Format(time.RFC3339),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Run", "Workflow", "Document", "Outcome", "Steps", "Started"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
}

func formatElapsed(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "; ")
}
