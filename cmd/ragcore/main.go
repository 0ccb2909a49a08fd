// Package main provides the entry point for the ragcore CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ragcore/ragcore/cmd/ragcore/cmd"
	"github.com/ragcore/ragcore/internal/migrate"
	"github.com/ragcore/ragcore/internal/repository"
	"github.com/ragcore/ragcore/internal/store"
)

// Exit codes (spec §6).
const (
	exitOK                 = 0
	exitFailure            = 1
	exitMigrationRequired  = 2
	exitReadOnlyViolation  = 3
	exitValidationFailure  = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	err := cmd.Execute()
	if err == nil {
		return exitOK
	}

	fmt.Fprintln(os.Stderr, "ragcore:", err)
	return exitCodeFor(err)
}

// exitCodeFor classifies err into the process exit code spec §6 defines.
func exitCodeFor(err error) int {
	var migrationErr migrate.ErrMigrationRequired
	if errors.As(err, &migrationErr) {
		return exitMigrationRequired
	}

	var readOnlyErr store.ErrReadOnly
	if errors.As(err, &readOnlyErr) {
		return exitReadOnlyViolation
	}

	var invalidInput repository.ErrInvalidInput
	if errors.As(err, &invalidInput) {
		return exitValidationFailure
	}
	var notFound store.ErrNotFound
	if errors.As(err, &notFound) {
		return exitValidationFailure
	}

	return exitFailure
}
