// perfdump verifies and prints snapshot journal segments and Parquet
// snapshot files written by perfkitd.
//
// Usage:
//
//	perfdump [-json] [-summary] [-section name] path...
//
// A path may be a journal segment (.pkj), a Parquet file (.parquet) or a
// directory holding either. The exit status is 1 when a file is damaged
// and 2 on other errors.
package main

import (
	"os"

	"golang.org/x/term"
)

func main() {
	width := 0
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil {
			width = w
		}
	}
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, width))
}
