// Package mcp exposes vmrag as an MCP tool server: twelve document tools over
// the vector store and fourteen version-control tools over the sync engine.
// Every tool returns a success envelope or a structured error envelope with a
// stable code.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vmrag/vmrag/internal/chroma"
	"github.com/vmrag/vmrag/internal/chunk"
	"github.com/vmrag/vmrag/internal/config"
	"github.com/vmrag/vmrag/internal/dolt"
	"github.com/vmrag/vmrag/internal/engine"
	"github.com/vmrag/vmrag/internal/errors"
	"github.com/vmrag/vmrag/internal/model"
	"github.com/vmrag/vmrag/pkg/version"
)

// Vector is the vector-store surface the document tools need.
// *chroma.Adapter satisfies it.
type Vector interface {
	ModelName() string
	CreateCollection(ctx context.Context, name string, metadata model.Metadata) error
	DeleteCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) ([]string, error)
	CollectionExists(ctx context.Context, name string) (bool, error)
	GetCollectionMetadata(ctx context.Context, name string) (model.Metadata, error)
	ModifyCollection(ctx context.Context, name, newName string, metadata model.Metadata) error
	Count(ctx context.Context, name string) (int, error)
	Add(ctx context.Context, collection string, ids, texts []string, embeddings [][]float32, metadatas []model.Metadata) error
	Delete(ctx context.Context, collection string, ids []string) error
	GetByIDs(ctx context.Context, collection string, ids []string) ([]model.ChunkRecord, error)
	GetFiltered(ctx context.Context, collection string, where, whereDocument map[string]any, limit, offset int) ([]model.ChunkRecord, error)
	QueryByMetadata(ctx context.Context, collection string, where map[string]any) ([]model.ChunkRecord, error)
	QueryText(ctx context.Context, collection string, queryTexts []string, nResults int, where, whereDocument map[string]any) (*chroma.QueryResponse, error)
}

// Bookkeeping is the versioned-store surface the façade writes directly:
// the dirty set, sync-state cleanup, and external VCS links.
type Bookkeeping interface {
	MarkDirty(ctx context.Context, collection, docID string) error
	DeleteSyncState(ctx context.Context, collection string) error
	GetSyncState(ctx context.Context, collection string) (*model.SyncState, error)
	InsertVCSLink(ctx context.Context, linkID, commitID, system, ref string) error
}

// VersionControl is the read surface of the version-control tools that do not
// go through the engine.
type VersionControl interface {
	CurrentBranch(ctx context.Context) (string, error)
	HeadCommit(ctx context.Context) (string, error)
	ListBranches(ctx context.Context) ([]string, error)
	Log(ctx context.Context, limit int) ([]dolt.CommitInfo, error)
	Fetch(ctx context.Context, remote string) error
	TableDiff(ctx context.Context, fromCommit, toCommit, table, collection string) ([]model.DiffRow, error)
}

// Engine is the composed-operation surface. *engine.Engine satisfies it.
type Engine interface {
	Status(ctx context.Context) (*engine.StatusReport, error)
	Commit(ctx context.Context, message string, autoStage bool) (*engine.CommitResult, error)
	Pull(ctx context.Context, remote, branch string, force bool) (*engine.PullSummary, error)
	Push(ctx context.Context, remote, branch string) error
	Checkout(ctx context.Context, branch string, create, force bool) (*engine.CheckoutResult, error)
	Reset(ctx context.Context, ref string, confirmed bool) (*engine.SyncSummary, error)
	InitFromVector(ctx context.Context, message string) (*engine.CommitResult, error)
	Clone(ctx context.Context, url, branch string) (*engine.CheckoutResult, error)
	CollectionForBranch(branch string) string
}

// Server is the MCP server for vmrag.
type Server struct {
	mcp       *mcp.Server
	engine    Engine
	vector    Vector
	store     Bookkeeping
	vcs       VersionControl
	converter *chunk.Converter
	cfg       *config.Config
	log       *slog.Logger
}

// NewServer creates the tool server and registers every tool.
func NewServer(eng Engine, vector Vector, store Bookkeeping, vcs VersionControl, converter *chunk.Converter, cfg *config.Config) *Server {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	s := &Server{
		engine:    eng,
		vector:    vector,
		store:     store,
		vcs:       vcs,
		converter: converter,
		cfg:       cfg,
		log:       slog.Default().With("component", "mcp"),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "vmrag",
			Version: version.Version,
		},
		nil,
	)
	s.registerDocumentTools()
	s.registerVersionTools()
	return s
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Serve runs the server over the given transport until ctx is cancelled.
// Logs must already be routed away from stdout; stdio is the protocol
// channel.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.log.Info("mcp_server_starting", "transport", transport)

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.log.Error("mcp_server_stopped", "error", err)
			return err
		}
		s.log.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Ack is the success envelope embedded in every tool output.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func ack(format string, args ...any) Ack {
	return Ack{Success: true, Message: fmt.Sprintf(format, args...)}
}

// errResult renders a failed tool call as the documented error envelope.
// Errors are carried in the result, not as protocol failures, so callers
// always see the stable code.
func errResult(err error) *mcp.CallToolResult {
	env := errors.ToEnvelope(err)
	data, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		data = []byte(`{"success":false,"error":"OPERATION_FAILED","message":"failed to encode error"}`)
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
