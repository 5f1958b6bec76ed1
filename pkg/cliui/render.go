package cliui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/papercomputeco/mnemo/pkg/contextwindow"
	"github.com/papercomputeco/mnemo/pkg/facts"
	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/periodlog"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// Role renders a message role in its color.
func Role(r periodlog.Role) string {
	switch r {
	case periodlog.RoleUser:
		return userStyle.Render(string(r))
	case periodlog.RoleAssistant:
		return assistantStyle.Render(string(r))
	default:
		return systemStyle.Render(string(r))
	}
}

// MessageLine is the one line summary of a message used by tail.
func MessageLine(m *periodlog.Message) string {
	return fmt.Sprintf("%s %s %s %s",
		StepStyle.Render(m.Timestamp.UTC().Format(time.RFC3339)),
		Role(m.Role),
		Truncate(m.Content, 100),
		StepStyle.Render(fmt.Sprintf("(%d tokens)", m.SizeEstimate)),
	)
}

// ResultLine summarizes a mutation result.
func ResultLine(r *memory.Result) string {
	if !r.Success {
		return fmt.Sprintf("%s %s %s: %s", FailMark, r.Action, warnStyle.Render(string(r.Kind)), r.Error)
	}
	return fmt.Sprintf("%s %s %s", SuccessMark, r.Action,
		StepStyle.Render(fmt.Sprintf("(%d/%d tokens, snapshot %s)", r.TokenUsage.Total, r.TokenUsage.Ceiling, r.Snapshot)))
}

// Truncate shortens s to at most n runes on one line.
func Truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// ContextMarkdown renders a context window as markdown.
func ContextMarkdown(w *contextwindow.Window) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Context\n\n")
	fmt.Fprintf(&b, "%d messages, %d of %d tokens available (budget %d, reserve %d)",
		len(w.Messages), w.Used, w.Available, w.Budget, w.Reserve)
	if w.Truncated {
		b.WriteString(", older history omitted")
	}
	if w.Oversized {
		b.WriteString(", **single message exceeds budget**")
	}
	b.WriteString("\n\n")

	for _, m := range w.Messages {
		fmt.Fprintf(&b, "## %s · %s\n\n", m.Role, m.Timestamp.UTC().Format(time.RFC3339))
		if m.Content != "" {
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		}
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&b, "- tool call `%s`\n", tc.Name)
		}
		if len(m.ToolCalls) > 0 {
			b.WriteString("\n")
		}
	}

	return b.String()
}

// FactsMarkdown renders a fact document as markdown, core items grouped by
// category.
func FactsMarkdown(v *memory.FactsView) string {
	var b strings.Builder
	d := v.Document

	fmt.Fprintf(&b, "# Facts\n\n")
	fmt.Fprintf(&b, "%d core / %d diff tokens, %d total",
		d.Metadata.CoreTokenCount, d.Metadata.DiffTokenCount, d.Metadata.TotalTokenCount)
	if !d.LastUpdated.IsZero() {
		fmt.Fprintf(&b, ", updated %s by %s", d.LastUpdated.UTC().Format(time.RFC3339), d.UpdatedBy)
	}
	b.WriteString("\n\n")

	b.WriteString("## Core\n\n")
	if len(d.Core.Items) == 0 {
		b.WriteString("_none_\n\n")
	}
	for _, group := range groupByCategory(d.Core.Items) {
		fmt.Fprintf(&b, "### %s\n\n", group.category)
		for _, it := range group.items {
			fmt.Fprintf(&b, "- %s `%s` (refs %d, verified %s)\n",
				it.Content, it.ID, it.ReferenceCount, it.LastVerified.UTC().Format(time.DateOnly))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Diff\n\n")
	if len(d.Diff.Items) == 0 {
		b.WriteString("_none_\n\n")
	}
	for _, it := range d.Diff.Items {
		fmt.Fprintf(&b, "- %s `%s` (confidence %.2f, hits %d)\n", it.Content, it.ID, it.Confidence, it.HitCount)
	}
	if len(d.Diff.Items) > 0 {
		b.WriteString("\n")
	}

	if len(v.Archived) > 0 {
		b.WriteString("## Archived\n\n")
		for _, it := range v.Archived {
			fmt.Fprintf(&b, "- %s `%s` (%s)\n", it.Content, it.ID, it.Category)
		}
		b.WriteString("\n")
	}

	for _, w := range v.Warnings {
		fmt.Fprintf(&b, "> warning: %s\n", w)
	}

	return b.String()
}

type categoryGroup struct {
	category string
	items    []facts.CoreItem
}

// groupByCategory keeps the first-seen order of categories.
func groupByCategory(items []facts.CoreItem) []categoryGroup {
	var groups []categoryGroup
	index := map[string]int{}
	for _, it := range items {
		i, ok := index[it.Category]
		if !ok {
			i = len(groups)
			index[it.Category] = i
			groups = append(groups, categoryGroup{category: it.Category})
		}
		groups[i].items = append(groups[i].items, it)
	}
	return groups
}
