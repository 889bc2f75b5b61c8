// The main package for the priceintel executable.
package main

import (
	"github.com/JakeFAU/competitor-price-intel/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
