package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"fidsweep/cmd/fidsweep/ui"
	"fidsweep/internal/store"
	"fidsweep/internal/sweep"
	"fidsweep/internal/tactile"
)

// progress prints one line per finished invocation.
type progress struct {
	out    io.Writer
	styles ui.Styles
	stream bool
}

func newProgress(out io.Writer, styles ui.Styles, stream bool) *progress {
	return &progress{out: out, styles: styles, stream: stream}
}

func (p *progress) InvocationStarted(inv sweep.Invocation, planned int) {
	// With streaming on, mark where each program's output begins.
	if p.stream {
		fmt.Fprintf(p.out, "%s %s\n", counter(inv.Seq, planned), p.styles.Info.Render(strings.Join(inv.Args, " ")))
	}
}

func (p *progress) InvocationFinished(out sweep.Outcome, planned int) {
	status := p.styles.Success.Render("ok")
	if !out.Succeeded() {
		status = p.styles.Error.Render("FAILED")
	}
	line := fmt.Sprintf("%s %-28s %s %s", counter(out.Invocation.Seq, planned), out.Invocation.Label(), status,
		p.styles.Muted.Render(formatDuration(out.Duration)))
	if out.Err != nil {
		line += "\n    " + p.styles.Error.Render(out.Err.Error())
	}
	fmt.Fprintln(p.out, line)
}

func counter(seq, planned int) string {
	w := len(strconv.Itoa(planned))
	return fmt.Sprintf("[%*d/%d]", w, seq+1, planned)
}

func statusStyle(styles ui.Styles, status sweep.Status) string {
	switch status {
	case sweep.StatusSucceeded:
		return styles.Success.Render(string(status))
	case sweep.StatusRunning, sweep.StatusCanceled:
		return styles.Warning.Render(string(status))
	default:
		return styles.Error.Render(string(status))
	}
}

// renderSummary formats the end-of-run report.
func renderSummary(report *sweep.Report, styles ui.Styles) string {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(styles.Title.Render("Sweep "+shortID(report.ID)) + " " + statusStyle(styles, report.Status) + "\n")
	fmt.Fprintf(&sb, "  completed %d, failed %d, skipped %d of %d in %s\n",
		report.Completed(), len(report.Failures()), report.Skipped(), report.Planned, formatDuration(report.Duration()))

	failures := report.Failures()
	if len(failures) == 0 {
		return sb.String()
	}

	table := ui.NewSimpleTable("Failures", []string{"#", "Label", "Exit", "Reason"})
	for _, f := range failures {
		table.AddRow(strconv.Itoa(f.Invocation.Seq), f.Invocation.Label(), strconv.Itoa(f.ExitCode), lastLine(f.Err.Error()))
	}
	sb.WriteString(table.View(styles))
	for _, f := range failures {
		if tail := strings.TrimSpace(f.OutputTail); tail != "" {
			sb.WriteString(styles.Bold.Render(f.Invocation.Label()+" output:") + "\n")
			sb.WriteString(styles.Muted.Render(indent(tail, "  ")) + "\n")
		}
	}
	return sb.String()
}

// renderUsage summarizes child process resource usage.
func renderUsage(m tactile.ExecutionMetricsSnapshot, styles ui.Styles) string {
	if m.Finished() == 0 {
		return styles.Muted.Render("  no processes run")
	}
	return styles.Muted.Render(fmt.Sprintf("  %d processes, %s wall, %s cpu, peak rss %s",
		m.Finished(), formatDuration(m.TotalDuration),
		formatDuration(time.Duration(m.TotalCPUTimeMs)*time.Millisecond), formatBytes(m.PeakRSSBytes)))
}

// renderRuns formats the run list for history.
func renderRuns(runs []store.RunRecord, styles ui.Styles) string {
	table := ui.NewSimpleTable("Recorded sweeps", []string{"Run", "Started", "Status", "Done", "Failed", "Skipped", "Duration"})
	for _, r := range runs {
		dur := "-"
		if !r.FinishedAt.IsZero() {
			dur = formatDuration(r.FinishedAt.Sub(r.StartedAt))
		}
		table.AddRow(
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			string(r.Status),
			fmt.Sprintf("%d/%d", r.Completed, r.Planned),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Skipped()),
			dur,
		)
	}
	return table.View(styles)
}

// renderRun formats one run and its invocations.
func renderRun(run *store.RunRecord, invs []store.InvocationRecord, styles ui.Styles) string {
	var sb strings.Builder
	sb.WriteString(styles.Title.Render("Sweep "+run.ID) + " " + statusStyle(styles, run.Status) + "\n")
	fmt.Fprintf(&sb, "  program %s, base %s, fail-fast %v\n", run.Program, run.BaseDir, run.FailFast)
	fmt.Fprintf(&sb, "  started %s\n\n", run.StartedAt.Local().Format(time.RFC3339))

	if len(invs) == 0 {
		sb.WriteString(styles.Muted.Render("No invocations recorded") + "\n")
		return sb.String()
	}

	table := ui.NewSimpleTable("", []string{"#", "Label", "Exit", "Duration", "Error"})
	for _, inv := range invs {
		table.AddRow(
			strconv.Itoa(inv.Seq),
			inv.Label,
			strconv.Itoa(inv.ExitCode),
			formatDuration(inv.Duration),
			lastLine(inv.Error),
		)
	}
	sb.WriteString(table.View(styles))
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
