// Package knowledge is the authoritative store of state records, the
// proposal queue, RFC documents and session handoff logs.
//
// Every document is JSON, validated against an embedded JSON Schema on read
// and on write, and written atomically (temp file + rename) under an
// exclusive flock on the state directory. [FileStore.Write] additionally
// refuses transitions that break the state invariants: only
// [FileStore.WriteVerified], carrying evidence of a passing run, may move a
// record to level 0; a contested record is never lowered; a decided proposal
// is never decided again.
//
// Layout of the state directory:
//
//	knowledge.json            invariants, state records, queue
//	scope_definitions.json    semantic scope path rules (optional)
//	rfcs/RFC-NNN.json         one document per RFC
//	sessions/session-NNNN.json  immutable handoff logs
//	scratch/<agent>_context.json  agent assignments
//	knowledge.lock, session.lock
package knowledge
