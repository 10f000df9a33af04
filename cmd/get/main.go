// Package main is responsible for the main func of the Get node.  The actual
// work is done in the internal/cmd package.
package main

import "github.com/getlantern/give/internal/cmd"

func main() {
	cmd.MainGet()
}
