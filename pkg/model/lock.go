package model

// LockRecord mirrors one active lock as reported by the distributed lock
// primitive. Path is the path exactly as the primitive reports it (a
// marker path for locks taken by this tool); ID is primitive assigned.
// Records are re-derived on every query, never cached across invocations.
type LockRecord struct {
	Path  string `json:"path" yaml:"path"`
	Owner string `json:"owner" yaml:"owner"`
	ID    string `json:"id" yaml:"id"`
	_     struct{}
}
