// The main package for the crag-crawler executable.
package main

import (
	"github.com/JakeFAU/crag-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
