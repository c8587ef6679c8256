// Package main is the entrypoint for the gateway daemon.
package main

import "github.com/nova-gateway/gateway/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
