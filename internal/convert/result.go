package convert

// Result summarizes one conversion run.
type Result struct {
	// Entries holds the sorted declaration lines the run produced. Empty
	// when the subtree held nothing left to convert.
	Entries []string
	// OutputPath is the in-root path of the conf file the entries were
	// written to, or would be written to in dry-run mode. Empty when
	// nothing was generated.
	OutputPath string
	// Unsupported lists root-relative paths that have no tmpfiles.d
	// representation and were skipped.
	Unsupported []string
}

// Generated reports whether the run produced any entries.
func (r *Result) Generated() bool {
	return len(r.Entries) > 0
}

// CheckResult is the outcome of a read-only conversion preview.
type CheckResult struct {
	// Entries holds the sorted declaration lines a destructive run would
	// produce on the same tree.
	Entries []string
	// Unsupported lists root-relative paths a destructive run would skip.
	Unsupported []string
}
