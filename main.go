// The main package for the matchday executable.
package main

import (
	"github.com/JakeFAU/matchday-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
