package main

import (
	"fmt"
	"os"

	"github.com/oshokin/bundle-updater/cmd/bundle-updater/cmd"
	"github.com/oshokin/bundle-updater/internal/updater"
)

func main() {
	// Resolved before anything can change the working directory.
	executablePath, err := updater.CurrentExecutable()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cmd.Execute(executablePath)
}
