// The main package for the crawl-archiver executable.
package main

import (
	"os"

	"github.com/JakeFAU/crawl-archiver/cmd"
)

// main defers all execution to the Cobra CLI and exits with its code.
func main() {
	os.Exit(cmd.Execute())
}
