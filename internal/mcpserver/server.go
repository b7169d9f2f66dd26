// Package mcpserver exposes the arbiter knowledge store to coding agents
// over the Model Context Protocol.
//
// Agents use it to submit their branch for review, read the queue and the
// review digest, and check whether an RFC is holding their scope or branch.
// Review sessions themselves are started from the CLI, never through MCP.
package mcpserver

import (
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/Iron-Ham/arbiter/internal/digest"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Store is the part of the knowledge store the tools read.
type Store interface {
	digest.Source
}

// Deps are the components the tools are built from.
type Deps struct {
	Store     Store
	Submitter Submitter
	Digest    digest.Options
	Logger    *logging.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// New creates the MCP server with every arbiter tool registered.
func New(d Deps) *server.MCPServer {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = logging.NopLogger()
	}

	s := server.NewMCPServer(
		"arbiter",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	status := NewStatusTool(d.Store, d.Now)
	s.AddTool(status.Definition(), status.Handle)

	dg := NewDigestTool(d.Store, d.Digest, d.Now)
	s.AddTool(dg.Definition(), dg.Handle)

	deadlines := NewDeadlinesTool(d.Store, d.Now)
	s.AddTool(deadlines.Definition(), deadlines.Handle)

	gate := NewGateTool(d.Store, d.Now)
	s.AddTool(gate.Definition(), gate.Handle)

	if d.Submitter != nil {
		submit := NewSubmitTool(d.Submitter, d.Logger)
		s.AddTool(submit.Definition(), submit.Handle)
	}

	return s
}

const instructions = `arbiter reviews the changes parallel coding agents make to a shared repository.

Before starting work in a semantic scope, call arbiter_rfc_deadlines with your scope:
a paused scope accepts no submissions until a human resolves the overdue RFC.

When your branch is ready, call arbiter_submit with your agent id and a change type
(mechanical, behavioral or architectural). Declare the files you depend on
and every assumption other agents might share. Undeclared cross-scope imports block the
proposal until an RFC settles them.

Use arbiter_rfc_gate with your branch to see which acceptance criteria still hold it back.`

// storeReader narrows Store for tools that only read RFCs.
type storeReader interface {
	knowledge.RFCStore
	knowledge.Store
}
