// Command musiccleanup deduplicates, grades, and reorganizes a music
// library per the rules in a YAML config file passed via --config.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
