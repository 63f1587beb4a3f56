package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `loom stores a branchable, append-only reasoning workspace as Projects → Refs → Commits → Nodes.

Core concepts (keep this mental model small):
- Project: a container owning one commit DAG and a set of refs (branches).
- Ref: a named, mutable pointer into the DAG — the unit you read, write, and fork.
- Commit: one point in the DAG; Nodes hang off commits (message / state / merge).
- Node: a message turn, a canvas state snapshot, or a merge record. Never edited in place.
- Artefact: an immutable canvas version tied to a commit. ArtefactDraft: your private, uncommitted edit buffer — never part of history.
- Lease: a TTL'd exclusive writer lock on (project, ref); hold it for the duration of a streaming turn.

Rules of engagement (default workflow):
1) Orient: list_projects / get_project, then list_refs to see branches and their tips.
2) Read: get_history(ref_id) for the linearized turn-by-turn transcript; get_canvas(ref_id) for the resolved canvas (your draft if present, else the latest artefact).
3) Write a turn: start_turn appends the user message, assembles context, drives the bound model, and appends the assistant reply — all under one held lease.
4) Branch: create_branch_from_ref to fork at the current tip; create_branch_from_node to fork as of an earlier turn (discarding everything after).
5) Reconcile: merge_ours records a structural merge (a two-parent commit plus a human-authored summary) — it never replays the source ref's content automatically.
6) Edit the canvas: save_draft for your own working copy; update_artefact to commit an explicit, durable canvas version (trunk only).
7) Manage locks: acquire/refresh/release a lease explicitly if you are not going through start_turn; abort_turn cancels an in-flight turn, persisting the partial reply with interrupted=true.

Transport notes:
- HTTP: pass session id via Mcp-Session-Id header.
- Stdio: pass session id via _meta.session_id when supported; otherwise pass session_id arguments where the tool accepts one.

Docs (progressive disclosure):
- loom://docs/index (what to read when)
- loom://docs/concepts (glossary + invariants)
- loom://docs/workflows/branching
- loom://docs/workflows/streaming-turns
- loom://docs/workflows/canvas-and-merges
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "loom://docs/index",
		Name:        "docs_index",
		Title:       "loom docs index",
		Description: "Entry point for agent-facing docs: what exists, what to read, and known limitations.",
		Content: `# loom: Agent Docs Index

This server is designed for **progressive disclosure**: keep your baseline context small and load deeper docs only when needed.

## Quick start (no deep docs)

1. ` + "`list_projects`" + ` / ` + "`get_project`" + ` to orient.
2. ` + "`list_refs`" + ` to see the project's branches and their tips.
3. ` + "`get_history`" + ` to read a ref's transcript; ` + "`get_canvas`" + ` for its resolved canvas.
4. ` + "`start_turn`" + ` to append a user message and drive a model reply.
5. ` + "`create_branch_from_ref`" + ` / ` + "`create_branch_from_node`" + ` to fork; ` + "`merge_ours`" + ` to reconcile.
6. ` + "`save_draft`" + ` / ` + "`update_artefact`" + ` to edit the canvas.

## Docs (read on demand)

- ` + "`loom://docs/concepts`" + ` — glossary + invariants (DAG model, lease protocol, canonical-fallback context).
- ` + "`loom://docs/workflows/branching`" + ` — forking and merging refs.
- ` + "`loom://docs/workflows/streaming-turns`" + ` — the lease → append → stream → append → release loop.
- ` + "`loom://docs/workflows/canvas-and-merges`" + ` — drafts vs. artefacts, and what a merge does (and doesn't) touch.

## Capabilities & intentional limitations

- ` + "`merge_ours`" + ` never replays source content into the target ref and never creates a canvas artefact row; adopting the source's canvas is a separate, explicit ` + "`update_artefact`" + ` call.
- ` + "`update_artefact`" + ` is refused on non-trunk refs.
`,
	},
	{
		URI:         "loom://docs/concepts",
		Name:        "docs_concepts",
		Title:       "Concepts and invariants",
		Description: "Mental model + invariant rules: the commit DAG, lease protocol, and context assembly.",
		Content: `# Concepts and invariants

## Glossary

- **Project**: container owning one commit DAG and a set of refs.
- **Ref**: a named, mutable pointer to a commit — the branch you read and write.
- **Commit**: one DAG point; ` + "`parent1`" + `/` + "`parent2`" + ` (merges only) link it to its ancestry.
- **Node**: message / state / merge — hangs off a commit, never mutated once written.
- **Commit order**: the per-ref dense linearization used for reading history; distinct from raw commit parentage, which is only a navigation hint.
- **Artefact / ArtefactDraft**: immutable committed canvas versions vs. your private, per-(project, ref, user) edit buffer.
- **Lease**: a TTL'd exclusive writer lock on (project, ref), held for a turn's duration.

## Append-only, never in place

Nothing in the commit DAG is edited or deleted. "Undo" and "redo different" are both forks: ` + "`create_branch_from_node`" + ` rewinds a *new* ref to an earlier point; the original ref is untouched.

## Lease protocol

Before writing, acquire the ref's lease (directly, or implicitly via ` + "`start_turn`" + `). Heartbeat it while streaming. Release it in every exit path, including cancellation. When another session holds the lease, ` + "`acquire_lease`" + ` reports ` + "`acquired=false`" + ` with the holder and ` + "`start_turn`" + ` returns ` + "`REF_BUSY`" + `; retry or ` + "`abort_turn`" + ` the holder first.

## Context assembly and provider switches

` + "`start_turn`" + ` builds the model's context from a ref's recent history, token-budgeted and never reordered. If a ref's bound (provider, model) has changed since an earlier assistant turn was written, that turn's raw thinking content is not replayed verbatim — only its rendered text survives the switch, per provider-specific redaction rules.

## Concurrency and conflicts

This server assumes single-writer-per-ref intent: concurrent turns on the same ref are not forbidden, but only one session may hold the lease at a time. A busy lease means "wait, or work on a different ref."
`,
	},
	{
		URI:         "loom://docs/workflows/branching",
		Name:        "docs_workflow_branching",
		Title:       "Workflow: branching",
		Description: "Forking a ref at its tip or at an earlier node, and recording a structural merge.",
		Content: `# Workflow: branching

## Fork at the current tip

` + "`create_branch_from_ref(project_id, source_ref_id, new_name)`" + ` creates a new ref sharing the source's entire commit_order prefix — "keep everything so far, try something different from here."

## Fork as of an earlier turn

` + "`create_branch_from_node(project_id, source_ref_id, node_id, new_name)`" + ` creates a new ref truncated at that node's parent commit — "go back to before this reply and answer differently." Everything after the chosen node is absent from the new ref's history, but still lives untouched on the source ref.

## Provider inheritance

A new ref inherits its source's (provider, model) binding unless the request overrides it. If the new binding is not "responses-capable" (or differs from the source's), ` + "`previous_response_id`" + ` is not carried forward.

## Merging

` + "`merge_ours(project_id, target_ref_id, source_ref_id, summary)`" + ` records a two-parent commit and a merge node carrying your summary plus the list of source-exclusive node ids since divergence. It does **not** replay source content or touch the canvas — see ` + "`loom://docs/workflows/canvas-and-merges`" + `.
`,
	},
	{
		URI:         "loom://docs/workflows/streaming-turns",
		Name:        "docs_workflow_streaming_turns",
		Title:       "Workflow: streaming turns",
		Description: "The lease → append → stream → append → release loop behind start_turn.",
		Content: `# Workflow: streaming turns

## What start_turn does

1. Acquires the ref's lease (bounded retry on busy).
2. Appends your message as a user node.
3. Builds the model's context from recent history (token-budgeted, redacted per provider).
4. Drives the bound provider's streaming completion, heartbeating the lease as chunks arrive.
5. Checks for preemption, then appends the assistant's reply as a message node (marked interrupted if the turn was aborted).
6. Updates the ref's ` + "`previous_response_id`" + ` if the provider is responses-capable.
7. Releases the lease, in every exit path.

## Aborting

` + "`abort_turn(project_id, ref_id)`" + ` cancels the in-flight turn for that ref. The partial reply is still appended, with ` + "`interrupted=true`" + `.

## Busy refs

If another session holds the lease past the wait bound, ` + "`start_turn`" + ` returns ` + "`REF_BUSY`" + `. Retry later, or ` + "`abort_turn`" + ` the other session's turn if you have reason to believe it's stuck.
`,
	},
	{
		URI:         "loom://docs/workflows/canvas-and-merges",
		Name:        "docs_workflow_canvas_and_merges",
		Title:       "Workflow: canvas and merges",
		Description: "Drafts vs. artefacts, and what a merge does and doesn't touch.",
		Content: `# Workflow: canvas and merges

## Drafts vs. artefacts

- ` + "`save_draft`" + ` upserts your own private, per-(project, ref, user) editor buffer. Never part of history; never visible to other users.
- ` + "`update_artefact`" + ` commits your current content as a new, immutable artefact on a new commit — durable, shared, and part of history. Only allowed on the trunk ref.
- ` + "`get_canvas`" + ` resolves "the current canvas" for you: your draft if you have one, else the latest committed artefact, else empty.

## Merges never touch the canvas

` + "`merge_ours`" + ` records only a commit and a merge node; it never creates an artefact row and never overwrites the target ref's canvas. If you want the target to adopt the source branch's canvas content, read it via ` + "`get_canvas`" + ` on the source ref and explicitly ` + "`update_artefact`" + ` on the target afterward.
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		doc := doc

		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
