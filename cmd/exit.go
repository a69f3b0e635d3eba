package cmd

import (
	"errors"

	"github.com/JakeFAU/crawl-archiver/internal/crawler"
)

// Process exit codes.
const (
	ExitOK             = 0
	ExitUnexpected     = 1
	ExitServiceFailure = 2
	ExitAbandoned      = 3
	ExitConfig         = 4
)

// ExitCode maps an error from a command onto a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var failure *crawler.ServiceFailureError
	switch {
	case errors.As(err, &failure):
		return ExitServiceFailure
	case errors.Is(err, crawler.ErrAbandoned):
		return ExitAbandoned
	case errors.Is(err, crawler.ErrConfig):
		return ExitConfig
	default:
		return ExitUnexpected
	}
}
