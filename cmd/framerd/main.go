// Command framerd reads header-delimited packets from a serial port,
// dispatches them to decoders and an optional SQLite recorder, and serves
// debug routes over HTTP.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
