// Package main is responsible for the main func of the Give node.  The actual
// work is done in the cmd package.
package main

import "github.com/getlantern/give/internal/cmd"

func main() {
	cmd.Main()
}
