package sysarch

import (
	"runtime"
	"strconv"
)

// CurrentTaskID returns an identifier for the calling goroutine. It is used
// only for identity comparisons (is the caller the worker?) and never for
// scheduling decisions.
func CurrentTaskID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 123 [running]:..."
	const prefix = len("goroutine ")
	if n <= prefix {
		return 0
	}
	b := buf[prefix:n]
	end := 0
	for end < len(b) && b[end] >= '0' && b[end] <= '9' {
		end++
	}
	id, err := strconv.ParseUint(string(b[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
