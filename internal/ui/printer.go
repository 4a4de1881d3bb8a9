package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/vmrag/vmrag/internal/conflict"
	"github.com/vmrag/vmrag/internal/dolt"
	"github.com/vmrag/vmrag/internal/engine"
	"github.com/vmrag/vmrag/internal/errors"
	"github.com/vmrag/vmrag/internal/model"
)

// Printer renders command results to one output stream.
type Printer struct {
	out    io.Writer
	styles Styles
}

// NewPrinter creates a printer whose styling follows the writer: colored for
// terminals, plain otherwise.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, styles: StylesFor(out)}
}

func (p *Printer) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

// Successf prints a green one-liner.
func (p *Printer) Successf(format string, args ...any) {
	p.printf("%s\n", p.styles.Success.Render(fmt.Sprintf(format, args...)))
}

// Warnf prints a yellow one-liner.
func (p *Printer) Warnf(format string, args ...any) {
	p.printf("%s\n", p.styles.Warning.Render(fmt.Sprintf(format, args...)))
}

// Error renders a failure with its code, details, and suggestions.
func (p *Printer) Error(err error) {
	formatted := errors.FormatForCLI(err)
	lines := strings.Split(formatted, "\n")
	if len(lines) > 0 {
		p.printf("%s\n", p.styles.Error.Render(lines[0]))
		for _, line := range lines[1:] {
			p.printf("%s\n", p.styles.Dim.Render(line))
		}
	}
}

// Status renders the combined two-store status report.
func (p *Printer) Status(report *engine.StatusReport) {
	p.printf("%s %s %s %s\n",
		p.styles.Label.Render("On branch"),
		p.styles.Branch.Render(report.Branch),
		p.styles.Label.Render("at"),
		p.styles.Commit.Render(shortHash(report.Head)))
	p.printf("%s %s\n", p.styles.Label.Render("Collection:"), report.Collection)

	if report.SyncState != nil {
		p.printf("%s %s (%s, %d documents, %d chunks)\n",
			p.styles.Label.Render("Synced at:"),
			p.styles.Commit.Render(shortHash(report.SyncState.LastSyncCommit)),
			report.SyncState.Status,
			report.SyncState.DocumentCount,
			report.SyncState.ChunkCount)
	}

	if report.Clean && report.LocalChanges.Total() == 0 && len(report.Pending) == 0 {
		p.Successf("Nothing to commit, stores in sync")
		return
	}
	if total := report.LocalChanges.Total(); total > 0 {
		p.Warnf("%d uncommitted local changes:", total)
		p.changeList("new", report.LocalChanges.New)
		p.changeList("modified", report.LocalChanges.Modified)
		p.changeList("deleted", report.LocalChanges.Deleted)
	}
	if len(report.Pending) > 0 {
		p.Warnf("%d documents pending sync to the vector store", len(report.Pending))
	}
	if len(report.StagedTables) > 0 {
		p.printf("%s %s\n",
			p.styles.Label.Render("Staged tables:"),
			strings.Join(report.StagedTables, ", "))
	}
}

func (p *Printer) changeList(kind string, deltas []model.DocumentDelta) {
	for _, d := range deltas {
		p.printf("  %s %s\n", p.styles.Dim.Render(kind+":"), d.DocID)
	}
}

// Commit renders a commit result.
func (p *Printer) Commit(result *engine.CommitResult) {
	counts := result.Staged.Counts()
	p.Successf("[%s %s] %d added, %d modified, %d deleted",
		result.Branch, shortHash(result.CommitHash),
		counts["new"], counts["modified"], counts["deleted"])
}

// Pull renders a pull summary.
func (p *Printer) Pull(summary *engine.PullSummary) {
	if summary.Sync == nil {
		p.Successf("Already up to date (%s)", shortHash(summary.After))
		return
	}
	p.printf("%s %s..%s\n",
		p.styles.Label.Render("Updating"),
		p.styles.Commit.Render(shortHash(summary.Before)),
		p.styles.Commit.Render(shortHash(summary.After)))
	p.Sync(summary.Sync)
}

// Sync renders what a vector-side sync did.
func (p *Printer) Sync(summary *engine.SyncSummary) {
	p.Successf("Synced %s: %d added, %d modified, %d deleted",
		summary.Collection, summary.Added, summary.Modified, summary.Deleted)
}

// Checkout renders a branch switch.
func (p *Printer) Checkout(result *engine.CheckoutResult) {
	verb := "Switched to"
	if result.Created {
		verb = "Created"
	}
	p.printf("%s %s %s\n",
		p.styles.Label.Render(verb),
		p.styles.Branch.Render(result.Branch),
		p.styles.Dim.Render("("+result.Collection+")"))
	if result.Sync != nil {
		p.Sync(result.Sync)
	}
}

// Merge renders a merge outcome, conflicted or clean.
func (p *Printer) Merge(outcome *engine.MergeOutcome) {
	if outcome.HasConflicts {
		p.printf("%s\n", p.styles.Error.Render(
			fmt.Sprintf("Merge of %s stopped on conflicts in: %s",
				outcome.SourceBranch, strings.Join(outcome.ConflictTables, ", "))))
		return
	}
	p.Successf("Merged %s as %s", outcome.SourceBranch, shortHash(outcome.MergeCommit))
	if outcome.Sync != nil {
		p.Sync(outcome.Sync)
	}
}

// Conflicts renders a conflict preview.
func (p *Printer) Conflicts(conflicts []conflict.DetailedConflict) {
	for _, c := range conflicts {
		marker := p.styles.Error.Render("manual")
		if c.AutoResolvable {
			marker = p.styles.Success.Render("auto")
		}
		p.printf("%s %s %s [%s] suggested: %s\n",
			p.styles.Dim.Render(c.ID), c.DocID,
			p.styles.Warning.Render(string(c.Type)), marker, c.Suggested)
		for _, diff := range c.Fields {
			p.printf("    %s ours=%q theirs=%q\n",
				p.styles.Label.Render(diff.Field), diff.Ours, diff.Theirs)
		}
	}
}

// Log renders commit history, one commit per block.
func (p *Printer) Log(commits []dolt.CommitInfo) {
	for _, c := range commits {
		p.printf("%s %s\n",
			p.styles.Commit.Render(shortHash(c.Hash)),
			p.styles.Header.Render(c.Message))
		if c.Committer != "" || c.Date != "" {
			p.printf("  %s\n", p.styles.Dim.Render(strings.TrimSpace(c.Committer+" "+c.Date)))
		}
	}
}

// Branches renders the branch list, marking the current one.
func (p *Printer) Branches(current string, branches []string) {
	for _, branch := range branches {
		if branch == current {
			p.printf("%s %s\n", p.styles.Success.Render("*"), p.styles.Branch.Render(branch))
		} else {
			p.printf("  %s\n", branch)
		}
	}
}

func shortHash(hash string) string {
	if len(hash) > 10 {
		return hash[:10]
	}
	return hash
}
