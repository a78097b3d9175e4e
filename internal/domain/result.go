package domain

// FetchResult reports how one fetch cycle ended. It is handed to the
// completion callback exactly once per cycle.
type FetchResult struct {
	Alerts int
	Err    error
}

// OK reports whether the cycle produced a fresh alert set.
func (r FetchResult) OK() bool { return r.Err == nil }
