package main

import (
	"errors"
	"os"

	"github.com/droverhq/drover/internal/cli"
	"github.com/droverhq/drover/internal/output"
	"github.com/droverhq/drover/internal/reserve"
)

// Reservation conflict exit codes are a stable contract with agent
// tooling: 5 means another agent holds the path, 6 means the caller
// collided with its own reservation.
const (
	exitConflict     = 5
	exitSelfConflict = 6
)

func main() {
	err := cli.Execute()
	if err == nil {
		return
	}

	output.PrintErrorf("%v", err)
	switch {
	case errors.Is(err, reserve.ErrConflict):
		os.Exit(exitConflict)
	case errors.Is(err, reserve.ErrSelfConflict):
		os.Exit(exitSelfConflict)
	default:
		os.Exit(1)
	}
}
