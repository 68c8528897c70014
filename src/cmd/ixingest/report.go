package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"

	"interaction-ingest/src/archive"
	"interaction-ingest/src/contracts"
	"interaction-ingest/src/ingest"
	"interaction-ingest/src/query"
	"interaction-ingest/src/reconcile"
	"interaction-ingest/src/sanitize"
)

const previewRunes = 120

var (
	heading = color.New(color.Bold).SprintFunc()
	good    = color.New(color.FgGreen).SprintFunc()
	bad     = color.New(color.FgRed).SprintFunc()
	warn    = color.New(color.FgYellow).SprintFunc()
	faint   = color.New(color.FgHiBlack).SprintFunc()
)

func printStats(w io.Writer, s ingest.StatsSnapshot) {
	title := "Listener statistics"
	if !s.Started.IsZero() {
		title += fmt.Sprintf(" (uptime %s)", time.Since(s.Started).Round(time.Second))
	}
	fmt.Fprintln(w, heading(title))
	fmt.Fprintf(w, "  Received:      %d\n", s.Received)
	fmt.Fprintf(w, "  Filtered:      %d\n", s.Filtered)
	fmt.Fprintf(w, "  Succeeded:     %s (%.1f%%)\n", good(s.Succeeded), s.SuccessRate())
	fmt.Fprintf(w, "    new:         %d\n", s.NewMessages)
	fmt.Fprintf(w, "    duplicate:   %d\n", s.Duplicates)

	failed := s.TotalFailed()
	if failed == 0 {
		fmt.Fprintf(w, "  Failed:        %d\n", failed)
	} else {
		fmt.Fprintf(w, "  Failed:        %s\n", bad(failed))
		printKinds(w, s.Failed)
	}
	if s.Retries > 0 {
		fmt.Fprintf(w, "  Retries:       %d\n", s.Retries)
	}
	if s.Archived > 0 || s.ArchiveFailures > 0 {
		fmt.Fprintf(w, "  Archived:      %d (%d failed)\n", s.Archived, s.ArchiveFailures)
	}
	if s.SchemaDrift > 0 {
		fmt.Fprintf(w, "  Schema drift:  %s\n", warn(s.SchemaDrift))
	}
	if s.LastError != "" {
		fmt.Fprintf(w, "  Last error:    %s\n", sanitize.Preview(s.LastError, previewRunes))
	}
}

func printKinds[N int | int64](w io.Writer, byKind map[ingest.FailureKind]N) {
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "    %-22s %d\n", k+":", byKind[ingest.FailureKind(k)])
	}
}

func printReport(w io.Writer, r archive.Report) {
	fmt.Fprintln(w, heading("Replay report"))
	fmt.Fprintf(w, "  Files:         %d\n", r.Total)
	fmt.Fprintf(w, "  Succeeded:     %s (%d new, %d duplicate)\n", good(r.Succeeded), r.NewMessages, r.Duplicates)
	if r.Failed == 0 {
		fmt.Fprintf(w, "  Failed:        %d\n", r.Failed)
		return
	}
	fmt.Fprintf(w, "  Failed:        %s\n", bad(r.Failed))
	printKinds(w, r.ByKind)
	if len(r.Samples) > 0 {
		fmt.Fprintln(w, heading("First failures"))
		for _, s := range r.Samples {
			fmt.Fprintf(w, "  %s %s: %s\n", bad("✖"), s.Path, sanitize.Preview(fmt.Sprintf("%s: %v", s.Kind, s.Err), previewRunes))
		}
	}
}

func printBackfill(w io.Writer, r reconcile.BackfillReport) {
	fmt.Fprintf(w, "%s %s: %d interactions, %d messages", heading("Backfilled"), r.ConversationKey, r.Interactions, r.Messages)
	if r.Unlinked > 0 {
		fmt.Fprintf(w, ", %s", warn(fmt.Sprintf("%d without interaction", r.Unlinked)))
	}
	fmt.Fprintln(w)
	if len(r.Changed) == 0 {
		fmt.Fprintln(w, faint("  counters were already correct"))
		return
	}
	for _, key := range r.Changed {
		fmt.Fprintf(w, "  %s %s\n", good("repaired"), key)
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...)
}

func printInteractions(w io.Writer, ins []contracts.Interaction) {
	if len(ins) == 0 {
		fmt.Fprintln(w, "No interactions.")
		return
	}
	t := newTable("#", "Interaction", "State", "Agents", "Msgs", "Tools", "Subtasks", "Query")
	for _, in := range ins {
		agents := in.PrimaryAgent
		if len(in.DelegatedAgents) > 0 {
			agents = strings.TrimPrefix(agents+" → "+strings.Join(in.DelegatedAgents, ", "), " → ")
		}
		t.Row(
			fmt.Sprint(in.Sequence),
			in.Key,
			string(in.ResponseState),
			agents,
			fmt.Sprint(in.TotalMessages),
			fmt.Sprint(in.NumToolCalls),
			fmt.Sprint(in.NumSubtasks),
			sanitize.Preview(in.UserQuery, 40),
		)
	}
	fmt.Fprintln(w, t.Render())
}

func printToolCalls(w io.Writer, calls []query.ToolCall) {
	if len(calls) == 0 {
		fmt.Fprintln(w, "No tool calls.")
		return
	}
	t := newTable("Call", "Tool", "Agent", "Status", "Duration", "Input")
	for _, c := range calls {
		d := "-"
		if c.Duration != nil {
			d = c.Duration.Round(time.Millisecond).String()
		}
		t.Row(c.ID, c.Name, c.AgentName, string(c.Status), d, sanitize.Preview(string(c.Input), 40))
	}
	fmt.Fprintln(w, t.Render())
}

func printFlow(w io.Writer, f *query.TaskFlow) {
	in := f.Interaction
	fmt.Fprintf(w, "%s %s (conversation %s, #%d)\n", heading("Interaction"), in.Key, in.ConversationKey, in.Sequence)
	state := string(in.ResponseState)
	if in.ResponseState == contracts.ResponseCompleted {
		state = good(state)
	}
	fmt.Fprintf(w, "  State:    %s\n", state)
	if in.PrimaryAgent != "" {
		fmt.Fprintf(w, "  Agent:    %s\n", in.PrimaryAgent)
	}
	if len(in.DelegatedAgents) > 0 {
		fmt.Fprintf(w, "  Delegated: %s\n", strings.Join(in.DelegatedAgents, ", "))
	}
	fmt.Fprintf(w, "  Query:    %s\n", sanitize.Preview(in.UserQuery, previewRunes))
	fmt.Fprintf(w, "  Response: %s\n", sanitize.Preview(in.AgentResponse, previewRunes))
	fmt.Fprintf(w, "  Tokens:   %d\n", in.Tokens.Total)

	fmt.Fprintf(w, "\n%s (%d)\n", heading("Messages"), f.TotalMessages)
	for _, m := range f.Messages {
		who := string(m.Role)
		if m.AgentName != "" {
			who += "/" + m.AgentName
		}
		fmt.Fprintf(w, "  %s %-22s %-16s %s\n",
			faint(m.Timestamp.Format("15:04:05.000")), who, m.MessageType, sanitize.Preview(m.Content, 80))
	}

	fmt.Fprintf(w, "\n%s (%d)\n", heading("Tool calls"), len(f.ToolCalls))
	printToolCalls(w, f.ToolCalls)

	if len(f.Subtasks) > 0 {
		fmt.Fprintf(w, "\n%s (%d)\n", heading("Subtasks"), len(f.Subtasks))
		for _, st := range f.Subtasks {
			fmt.Fprintf(w, "  %s %s: %d messages, %d tool calls, %s\n",
				st.TaskKey, st.AgentName, st.NumMessages, len(st.ToolCalls), st.EndedAt.Sub(st.StartedAt).Round(time.Millisecond))
		}
	}
	if len(f.Reasoning) > 0 {
		fmt.Fprintf(w, "\n%s %d model invocations\n", heading("Reasoning:"), len(f.Reasoning))
	}
}
