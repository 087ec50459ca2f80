// The main package for the tenderwatch executable.
package main

import (
	"os"

	"github.com/JakeFAU/tender-watch/cmd"
)

// main defers all execution to the Cobra CLI and exits with its code.
func main() {
	os.Exit(cmd.Execute())
}
