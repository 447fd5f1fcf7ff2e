// Package main is the entry point for the l2vpn switch and client.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/l2vpn/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
