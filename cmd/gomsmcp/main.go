package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("gomsmcp — SQL Server MCP Server")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  gomsmcp serve       Start the MCP server (stdio, or HTTP when server.port is set)")
	fmt.Println("  gomsmcp --help      Show this help message")
}
