// Command soundctl maintains a sound-tender data directory offline: it
// lists, imports and exports commands, browses and restores backups, ranks
// viewers by points and seals credentials. It takes the data directory lock,
// so it refuses to run next to a live daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
