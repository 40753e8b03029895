// Package main is the single-binary entrypoint for infercored.
package main

import "github.com/infercore/infercore/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
