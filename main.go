// The main package for the policycrawler executable.
package main

import (
	"github.com/JakeFAU/policy-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
