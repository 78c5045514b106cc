// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Command ptqdm runs a command once per line of input, in parallel,
// while drawing a progress bar on stderr.
//
//	find . -name '*.png' | ptqdm -j 4 -- optipng -quiet {}
//	ptqdm --mode process -i urls.txt -- curl -sS {}
package main

import (
	"os"

	"vawter.tech/ptqdm/pool"
)

func main() {
	// Must come first: in a worker process, this serves requests and
	// exits.
	pool.Main()
	os.Exit(runMain())
}
