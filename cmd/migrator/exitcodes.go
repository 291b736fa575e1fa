package main

import (
	"errors"

	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

const (
	exitOK        = 0
	exitConfig    = 2
	exitUsage     = 3
	exitDB        = 4
	exitPartial   = 5
	exitRunFailed = 6
)

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	if errs.KindOf(err) == errs.KindConfig {
		return exitConfig
	}
	return 1
}

// runExit maps a terminal run status to the process outcome. Partial runs
// exit non-zero so scripts notice records waiting in quarantine.
func runExit(run *models.BatchRun) error {
	switch run.Status {
	case models.RunStatusCompleted:
		return nil
	case models.RunStatusPartial:
		return withCode(exitPartial, errors.New("run "+run.ID+" finished partial: records are waiting in quarantine"))
	default:
		msg := "run " + run.ID + " " + string(run.Status)
		if run.Error != "" {
			msg += ": " + run.Error
		}
		return withCode(exitRunFailed, errors.New(msg))
	}
}
