package runner

import (
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

func errRunNotFound(id string) error {
	return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("run %s not found", id))
}

func errBatchNotFound(runID string, position int) error {
	return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("run %s has no batch at position %d", runID, position))
}

func errRunConflict(id, format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("run %s: ", id)+fmt.Sprintf(format, args...))
}
