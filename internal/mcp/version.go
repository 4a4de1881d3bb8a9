package mcp

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vmrag/vmrag/internal/dolt"
	"github.com/vmrag/vmrag/internal/engine"
	"github.com/vmrag/vmrag/internal/errors"
	"github.com/vmrag/vmrag/internal/model"
)

func (s *Server) registerVersionTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "status",
		Description: "Combined status of both stores: branch, head, uncommitted local changes, pending pulls, and sync state.",
	}, s.status)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "branches",
		Description: "List branches and show the current one with its vector collection.",
	}, s.branches)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "commits",
		Description: "Show recent commit history.",
	}, s.commits)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "show",
		Description: "Show one commit: its message, committer, and the document-level changes it introduced.",
	}, s.show)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "find",
		Description: "Find commits whose message or hash matches a query string.",
	}, s.find)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "init",
		Description: "Initialize versioning for an existing vector store: import every collection's documents and create the first commit.",
	}, s.initRepo)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "clone",
		Description: "Clone a remote versioned repository and build the vector collection for its branch.",
	}, s.clone)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "fetch",
		Description: "Fetch from a remote without changing the working set.",
	}, s.fetch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pull",
		Description: "Pull remote commits and apply the pulled range to the vector collection. Blocked by uncommitted local changes unless forced.",
	}, s.pull)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "push",
		Description: "Push the current branch to a remote.",
	}, s.push)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "commit",
		Description: "Stage pending vector-side changes into the versioned store and commit them.",
	}, s.commit)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "checkout",
		Description: "Switch branches (or create one) and bring the branch's vector collection up to date.",
	}, s.checkout)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reset",
		Description: "Hard-reset to a ref and regenerate the vector collection. Destructive; requires confirm=true.",
	}, s.reset)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "link_external_vcs",
		Description: "Link a document commit to an external VCS ref, e.g. the git commit of the code it describes.",
	}, s.linkExternalVCS)
}

type StatusInput struct{}

type StatusOutput struct {
	Ack
	Status *engine.StatusReport `json:"status"`
}

func (s *Server) status(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	report, err := s.engine.Status(ctx)
	if err != nil {
		return errResult(err), StatusOutput{}, nil
	}
	return nil, StatusOutput{
		Ack:    ack("on %s at %s, %d local changes", report.Branch, report.Head, report.LocalChanges.Total()),
		Status: report,
	}, nil
}

type BranchesInput struct{}

type BranchesOutput struct {
	Ack
	Current    string   `json:"current"`
	Collection string   `json:"collection"`
	Branches   []string `json:"branches"`
}

func (s *Server) branches(ctx context.Context, req *mcp.CallToolRequest, input BranchesInput) (*mcp.CallToolResult, BranchesOutput, error) {
	current, err := s.vcs.CurrentBranch(ctx)
	if err != nil {
		return errResult(err), BranchesOutput{}, nil
	}
	names, err := s.vcs.ListBranches(ctx)
	if err != nil {
		return errResult(err), BranchesOutput{}, nil
	}
	return nil, BranchesOutput{
		Ack:        ack("%d branches, on %s", len(names), current),
		Current:    current,
		Collection: s.engine.CollectionForBranch(current),
		Branches:   names,
	}, nil
}

type CommitsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Number of commits to return. Defaults to 20."`
}

type CommitsOutput struct {
	Ack
	Commits []dolt.CommitInfo `json:"commits"`
}

func (s *Server) commits(ctx context.Context, req *mcp.CallToolRequest, input CommitsInput) (*mcp.CallToolResult, CommitsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	log, err := s.vcs.Log(ctx, limit)
	if err != nil {
		return errResult(err), CommitsOutput{}, nil
	}
	return nil, CommitsOutput{
		Ack:     ack("%d commits", len(log)),
		Commits: log,
	}, nil
}

// ChangeSummary is one document-level change of a commit, without content.
type ChangeSummary struct {
	Type  model.DiffType `json:"diff_type"`
	DocID string         `json:"doc_id"`
	Title string         `json:"title,omitempty"`
}

type ShowInput struct {
	Commit string `json:"commit" jsonschema:"Commit hash or unambiguous prefix."`
}

type ShowOutput struct {
	Ack
	Commit  dolt.CommitInfo `json:"commit"`
	Changes []ChangeSummary `json:"changes"`
}

func (s *Server) show(ctx context.Context, req *mcp.CallToolRequest, input ShowInput) (*mcp.CallToolResult, ShowOutput, error) {
	if input.Commit == "" {
		return errResult(errors.ValidationError("commit is required", nil)), ShowOutput{}, nil
	}
	info, err := s.findCommit(ctx, input.Commit)
	if err != nil {
		return errResult(err), ShowOutput{}, nil
	}
	rows, err := s.vcs.TableDiff(ctx, info.Hash+"~1", info.Hash, "documents", "")
	if err != nil {
		return errResult(err), ShowOutput{}, nil
	}
	changes := make([]ChangeSummary, 0, len(rows))
	for _, row := range rows {
		changes = append(changes, ChangeSummary{Type: row.Type, DocID: row.DocID, Title: row.Title})
	}
	return nil, ShowOutput{
		Ack:     ack("commit %s: %d document changes", info.Hash, len(changes)),
		Commit:  *info,
		Changes: changes,
	}, nil
}

// findCommit resolves a hash or hash prefix against recent history.
func (s *Server) findCommit(ctx context.Context, ref string) (*dolt.CommitInfo, error) {
	log, err := s.vcs.Log(ctx, 500)
	if err != nil {
		return nil, err
	}
	for i := range log {
		if strings.HasPrefix(log[i].Hash, ref) {
			return &log[i], nil
		}
	}
	return nil, errors.Newf(errors.CodeCommitNotFound, "no commit matches %q", ref)
}

type FindInput struct {
	Query string `json:"query" jsonschema:"Substring matched against commit messages and hashes, case-insensitive."`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum matches to return. Defaults to 20."`
}

func (s *Server) find(ctx context.Context, req *mcp.CallToolRequest, input FindInput) (*mcp.CallToolResult, CommitsOutput, error) {
	if input.Query == "" {
		return errResult(errors.ValidationError("query is required", nil)), CommitsOutput{}, nil
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	log, err := s.vcs.Log(ctx, 500)
	if err != nil {
		return errResult(err), CommitsOutput{}, nil
	}

	query := strings.ToLower(input.Query)
	var matched []dolt.CommitInfo
	for _, info := range log {
		if strings.Contains(strings.ToLower(info.Message), query) ||
			strings.HasPrefix(info.Hash, input.Query) {
			matched = append(matched, info)
			if len(matched) == limit {
				break
			}
		}
	}
	return nil, CommitsOutput{
		Ack:     ack("%d commits match %q", len(matched), input.Query),
		Commits: matched,
	}, nil
}

type InitInput struct {
	Message string `json:"message,omitempty" jsonschema:"Message for the initial commit."`
}

type CommitOutput struct {
	Ack
	Result *engine.CommitResult `json:"result"`
}

func (s *Server) initRepo(ctx context.Context, req *mcp.CallToolRequest, input InitInput) (*mcp.CallToolResult, CommitOutput, error) {
	result, err := s.engine.InitFromVector(ctx, input.Message)
	if err != nil {
		return errResult(err), CommitOutput{}, nil
	}
	return nil, CommitOutput{
		Ack:    ack("initialized with %d documents at %s", result.Staged.Total(), result.CommitHash),
		Result: result,
	}, nil
}

type CloneInput struct {
	URL    string `json:"url" jsonschema:"Remote repository URL."`
	Branch string `json:"branch,omitempty" jsonschema:"Branch to build the vector collection for. Defaults to the clone's current branch."`
}

type CheckoutOutput struct {
	Ack
	Result *engine.CheckoutResult `json:"result"`
}

func (s *Server) clone(ctx context.Context, req *mcp.CallToolRequest, input CloneInput) (*mcp.CallToolResult, CheckoutOutput, error) {
	if input.URL == "" {
		return errResult(errors.ValidationError("url is required", nil)), CheckoutOutput{}, nil
	}
	result, err := s.engine.Clone(ctx, input.URL, input.Branch)
	if err != nil {
		return errResult(err), CheckoutOutput{}, nil
	}
	return nil, CheckoutOutput{
		Ack:    ack("cloned %s into collection %s", input.URL, result.Collection),
		Result: result,
	}, nil
}

type FetchInput struct {
	Remote string `json:"remote,omitempty" jsonschema:"Remote name. Defaults to the configured remote."`
}

func (s *Server) fetch(ctx context.Context, req *mcp.CallToolRequest, input FetchInput) (*mcp.CallToolResult, Ack, error) {
	remote := input.Remote
	if remote == "" {
		remote = s.cfg.Dolt.Remote
	}
	if err := s.vcs.Fetch(ctx, remote); err != nil {
		return errResult(err), Ack{}, nil
	}
	return nil, ack("fetched %s", remote), nil
}

type PullInput struct {
	Remote string `json:"remote,omitempty" jsonschema:"Remote name. Defaults to the configured remote."`
	Branch string `json:"branch,omitempty" jsonschema:"Branch to pull. Defaults to the current branch."`
	Force  bool   `json:"force,omitempty" jsonschema:"Discard uncommitted local changes instead of refusing."`
}

type PullOutput struct {
	Ack
	Result *engine.PullSummary `json:"result"`
}

func (s *Server) pull(ctx context.Context, req *mcp.CallToolRequest, input PullInput) (*mcp.CallToolResult, PullOutput, error) {
	remote := input.Remote
	if remote == "" {
		remote = s.cfg.Dolt.Remote
	}
	result, err := s.engine.Pull(ctx, remote, input.Branch, input.Force)
	if err != nil {
		return errResult(err), PullOutput{}, nil
	}
	msg := "already up to date"
	if result.Sync != nil {
		msg = "pulled and synced"
	}
	return nil, PullOutput{
		Ack:    ack("%s (%s -> %s)", msg, result.Before, result.After),
		Result: result,
	}, nil
}

type PushInput struct {
	Remote string `json:"remote,omitempty" jsonschema:"Remote name. Defaults to the configured remote."`
	Branch string `json:"branch,omitempty" jsonschema:"Branch to push. Defaults to the current branch."`
}

func (s *Server) push(ctx context.Context, req *mcp.CallToolRequest, input PushInput) (*mcp.CallToolResult, Ack, error) {
	remote := input.Remote
	if remote == "" {
		remote = s.cfg.Dolt.Remote
	}
	if err := s.engine.Push(ctx, remote, input.Branch); err != nil {
		return errResult(err), Ack{}, nil
	}
	return nil, ack("pushed to %s", remote), nil
}

type CommitInput struct {
	Message   string `json:"message" jsonschema:"Commit message."`
	AutoStage *bool  `json:"auto_stage,omitempty" jsonschema:"Stage pending vector-side changes before committing. Defaults to the configured behavior."`
}

func (s *Server) commit(ctx context.Context, req *mcp.CallToolRequest, input CommitInput) (*mcp.CallToolResult, CommitOutput, error) {
	if input.Message == "" {
		return errResult(errors.ValidationError("message is required", nil)), CommitOutput{}, nil
	}
	autoStage := s.cfg.Sync.AutoStage
	if input.AutoStage != nil {
		autoStage = *input.AutoStage
	}
	result, err := s.engine.Commit(ctx, input.Message, autoStage)
	if err != nil {
		return errResult(err), CommitOutput{}, nil
	}
	return nil, CommitOutput{
		Ack:    ack("committed %d changes as %s", result.Staged.Total(), result.CommitHash),
		Result: result,
	}, nil
}

type CheckoutInput struct {
	Branch string `json:"branch" jsonschema:"Branch to switch to."`
	Create bool   `json:"create,omitempty" jsonschema:"Create the branch from the current head."`
	Force  bool   `json:"force,omitempty" jsonschema:"Discard uncommitted local changes instead of refusing."`
}

func (s *Server) checkout(ctx context.Context, req *mcp.CallToolRequest, input CheckoutInput) (*mcp.CallToolResult, CheckoutOutput, error) {
	if input.Branch == "" {
		return errResult(errors.ValidationError("branch is required", nil)), CheckoutOutput{}, nil
	}
	result, err := s.engine.Checkout(ctx, input.Branch, input.Create, input.Force)
	if err != nil {
		return errResult(err), CheckoutOutput{}, nil
	}
	return nil, CheckoutOutput{
		Ack:    ack("on %s, collection %s", result.Branch, result.Collection),
		Result: result,
	}, nil
}

type ResetInput struct {
	Ref     string `json:"ref" jsonschema:"Ref to reset to, e.g. HEAD or a commit hash."`
	Confirm bool   `json:"confirm,omitempty" jsonschema:"Must be true when uncommitted local changes would be lost."`
}

type ResetOutput struct {
	Ack
	Sync *engine.SyncSummary `json:"sync"`
}

func (s *Server) reset(ctx context.Context, req *mcp.CallToolRequest, input ResetInput) (*mcp.CallToolResult, ResetOutput, error) {
	if input.Ref == "" {
		return errResult(errors.ValidationError("ref is required", nil)), ResetOutput{}, nil
	}
	sync, err := s.engine.Reset(ctx, input.Ref, input.Confirm)
	if err != nil {
		return errResult(err), ResetOutput{}, nil
	}
	return nil, ResetOutput{
		Ack:  ack("reset to %s, collection %s regenerated", input.Ref, sync.Collection),
		Sync: sync,
	}, nil
}

type LinkExternalVCSInput struct {
	Commit string `json:"commit" jsonschema:"Document-store commit hash to link."`
	System string `json:"system" jsonschema:"External VCS name, e.g. git."`
	Ref    string `json:"ref" jsonschema:"External commit hash, tag, or branch ref."`
}

type LinkExternalVCSOutput struct {
	Ack
	LinkID string `json:"link_id"`
}

func (s *Server) linkExternalVCS(ctx context.Context, req *mcp.CallToolRequest, input LinkExternalVCSInput) (*mcp.CallToolResult, LinkExternalVCSOutput, error) {
	if input.Commit == "" || input.System == "" || input.Ref == "" {
		return errResult(errors.ValidationError("commit, system, and ref are required", nil)), LinkExternalVCSOutput{}, nil
	}
	linkID := uuid.NewString()
	if err := s.store.InsertVCSLink(ctx, linkID, input.Commit, input.System, input.Ref); err != nil {
		return errResult(err), LinkExternalVCSOutput{}, nil
	}
	return nil, LinkExternalVCSOutput{
		Ack:    ack("linked %s to %s %s", input.Commit, input.System, input.Ref),
		LinkID: linkID,
	}, nil
}
