package scheduler

import "context"

// SequenceMirror is the best-effort collaborator mirror-write named in
// spec §9: after a successful publish the coordinator may notify an
// external store (owned by the collaborator that serves reads) of the
// new sequence number so it can skip a round-trip back to the
// coordinator. The coordinator has no collaborator to mirror to in this
// repo, so NoopSequenceMirror is the only implementation; a real one
// would live in the collaborator's own module and satisfy this
// interface.
type SequenceMirror interface {
	MirrorSequence(ctx context.Context, ipnsName, sequenceNumber string)
}

// NoopSequenceMirror discards every mirror write. A failed or slow
// mirror must never hold up or fail the publish path, so this also
// doubles as the safe default when no mirror is configured.
type NoopSequenceMirror struct{}

func (NoopSequenceMirror) MirrorSequence(context.Context, string, string) {}
