// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the note catalog to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/notation/internal/apperr"
	"github.com/starford/notation/internal/noteservice"
	"github.com/starford/notation/internal/sorting"
)

const (
	contractURI  = "notation://note-format"
	defaultLimit = 50
)

// Server wraps the MCP server with the note tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all note tools registered.
func New(svc *noteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Notation",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("List notes whose title or body contains every word of the query. "+
			"Quoted phrases match exactly. An empty query lists every note."),
		mcp.WithString("query", mcp.Description("Filter text")),
		mcp.WithArray("labels", mcp.Description("Labels a note must carry"), mcp.WithStringItems()),
		mcp.WithString("sort", mcp.Description("Sort column"), mcp.Enum("title", "modified", "created", "size", "labels")),
		mcp.WithString("direction", mcp.Description("Sort direction"), mcp.Enum("asc", "desc")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 50)")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note: title, body, labels, checksum and backlinks."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a note. Read the format first via get_note_contract or the "+
			contractURI+" resource."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Note title")),
		mcp.WithString("body", mcp.Description("Markdown body without header")),
		mcp.WithArray("labels", mcp.Description("Labels"), mcp.WithStringItems()),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Replace the body of a note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("body", mcp.Required(), mcp.Description("New Markdown body")),
		mcp.WithString("checksum", mcp.Description("Checksum from read_note; the update fails if the body changed since")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("rename_note",
		mcp.WithDescription("Retitle a note. Its file is renamed and wiki links to it are rewritten."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("title", mcp.Required(), mcp.Description("New title")),
	), s.renameNote)

	s.mcp.AddTool(mcp.NewTool("delete_notes",
		mcp.WithDescription("Delete notes as one undoable action."),
		mcp.WithArray("ids", mcp.Required(), mcp.Description("Note ids"), mcp.WithStringItems()),
	), s.deleteNotes)

	s.mcp.AddTool(mcp.NewTool("label_notes",
		mcp.WithDescription("Add or remove labels on notes."),
		mcp.WithArray("ids", mcp.Required(), mcp.Description("Note ids"), mcp.WithStringItems()),
		mcp.WithArray("labels", mcp.Required(), mcp.Description("Labels"), mcp.WithStringItems()),
		mcp.WithBoolean("remove", mcp.Description("Remove instead of add")),
	), s.labelNotes)

	s.mcp.AddTool(mcp.NewTool("list_labels",
		mcp.WithDescription("List labels with the number of notes carrying each."),
	), s.listLabels)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("List the titles of notes that link to the specified note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("undo",
		mcp.WithDescription("Revert the most recent delete or label change."),
	), s.undo)

	s.mcp.AddTool(mcp.NewTool("flush",
		mcp.WithDescription("Write every pending change to the note directory now."),
	), s.flush)

	s.mcp.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Report pending writes, tombstones, journal state and write failures."),
	), s.status)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the note format contract. "+
			"Call this before creating or updating notes."),
	), s.getNoteContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Note Format Contract",
			mcp.WithResourceDescription("How notes are stored and how tools address them."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func errorResult(id string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id))
	case errors.Is(err, apperr.ErrConflict):
		return mcp.NewToolResultError(fmt.Sprintf("note %s changed since it was read", id))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := noteservice.ListQuery{
		Query:  req.GetString("query", ""),
		Labels: req.GetStringSlice("labels", nil),
		Limit:  req.GetInt("limit", defaultLimit),
	}
	if raw := req.GetString("sort", ""); raw != "" {
		col, err := sorting.ParseColumn(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		q.Sort = col
	}
	if raw := req.GetString("direction", ""); raw != "" {
		dir, err := sorting.ParseDirection(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		q.Direction = dir
	}
	items, total, err := s.svc.ListNotes(ctx, q)
	if err != nil {
		return errorResult("", err), nil
	}
	return jsonResult(map[string]any{"notes": items, "total": total}), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.GetNote(ctx, id)
	if err != nil {
		return errorResult(id, err), nil
	}
	return jsonResult(note), nil
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.CreateNote(ctx, title, req.GetString("body", ""), req.GetStringSlice("labels", nil))
	if err != nil {
		return errorResult("", err), nil
	}
	return jsonResult(note), nil
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := req.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.UpdateNote(ctx, id, body, req.GetString("checksum", ""))
	if err != nil {
		return errorResult(id, err), nil
	}
	return jsonResult(note), nil
}

func (s *Server) renameNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, relinked, err := s.svc.RenameNote(ctx, id, title)
	if err != nil {
		return errorResult(id, err), nil
	}
	return jsonResult(map[string]any{"note": note, "relinked": relinked}), nil
}

func (s *Server) deleteNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, err := req.RequireStringSlice("ids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(ids) == 0 {
		return mcp.NewToolResultError("ids must not be empty"), nil
	}
	if err := s.svc.DeleteNotes(ctx, ids...); err != nil {
		return errorResult("", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted %d note(s)", len(ids))), nil
}

func (s *Server) labelNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, err := req.RequireStringSlice("ids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	labels, err := req.RequireStringSlice("labels")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	edit, verb := s.svc.AddLabels, "labelled"
	if req.GetBool("remove", false) {
		edit, verb = s.svc.RemoveLabels, "unlabelled"
	}
	if err := edit(ctx, ids, labels...); err != nil {
		return errorResult("", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s %d note(s)", verb, len(ids))), nil
}

func (s *Server) listLabels(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	labels, err := s.svc.Labels(ctx)
	if err != nil {
		return errorResult("", err), nil
	}
	return jsonResult(labels), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.GetNote(ctx, id)
	if err != nil {
		return errorResult(id, err), nil
	}
	if len(note.Backlinks) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return jsonResult(note.Backlinks), nil
}

func (s *Server) undo(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := s.svc.Undo(ctx)
	if err != nil {
		return errorResult("", err), nil
	}
	return mcp.NewToolResultText("undone: " + name), nil
}

func (s *Server) flush(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.svc.Flush(ctx); err != nil {
		return errorResult("", err), nil
	}
	return mcp.NewToolResultText("flushed"), nil
}

func (s *Server) status(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.svc.Status(ctx)
	if err != nil {
		return errorResult("", err), nil
	}
	return jsonResult(st), nil
}

func (s *Server) getNoteContract(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}
