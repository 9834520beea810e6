// Command graphflow runs workflow graphs over HTTP, MCP or once from the
// command line.
package main

import (
	"fmt"
	"os"
)

const usage = `Usage: graphflow <command> [flags]

Commands:
  serve          start the HTTP API and scheduler (default)
  mcp            serve MCP over stdio
  run            run a graph once and print the result
  install-tools  download mermaid-ascii for ASCII diagrams
  version        print the version
`

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "mcp":
		err = runMCP(args)
	case "run":
		err = runOnce(args, os.Stdin, os.Stdout)
	case "install-tools":
		err = runInstallTools(args)
	case "version", "-v", "--version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
