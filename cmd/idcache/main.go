// Package main provides the idcache CLI.
// See docs/ARCHITECTURE.md § CLI.
package main

import "github.com/mesh-intelligence/idcache/internal/cli"

func main() {
	cli.Execute()
}
