// Command archivist runs a replica of the archivist task dispatcher.
package main

import "github.com/Juanbuhler/zmlp-sub000/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
