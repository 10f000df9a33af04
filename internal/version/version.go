// Package version contains the version of the program.  It is set at build
// time, see the makefile for more details.
package version

// VersionString is the version that we'll print to the output.
var VersionString = "undefined"
