package cmn

// Assert panics if cond is false. Reserved for invariants the rest of the
// package already guarantees held (e.g. lock-count == block-count); never
// used in place of validating external input.
func Assert(cond bool) {
	if !cond {
		panic("ukai: assertion failed")
	}
}

// AssertMsg is Assert with a caller-supplied explanation.
func AssertMsg(cond bool, msg string) {
	if !cond {
		panic("ukai: assertion failed: " + msg)
	}
}
