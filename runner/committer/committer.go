package committer

// Committer decides when a stream thread commits. TryCommit returning true holds the
// committer until UnlockCommit reports whether the commit succeeded.
type Committer interface {
	TryCommit() bool
	UnlockCommit(ok bool)

	RecordProcessed(count int)
}
