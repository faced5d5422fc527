package fetch

import (
	"fmt"

	"github.com/rcliao/modeldeps/internal/backend"
)

// MainFileError reports that the main model file could not be located or
// fetched. It is the only failure that aborts a load.
type MainFileError struct {
	Name   string
	ID     string
	Status backend.Status
	Err    error
}

func (e *MainFileError) Error() string {
	return fmt.Sprintf("main file %s: %s: %v", e.Name, e.Status, e.Err)
}

func (e *MainFileError) Unwrap() error { return e.Err }

// Message returns a sentence suitable for showing to a user.
func (e *MainFileError) Message() string {
	switch e.Status {
	case backend.StatusNotFound:
		return fmt.Sprintf("The model file %q could not be found. It may have been moved or deleted.", e.Name)
	case backend.StatusForbidden:
		return fmt.Sprintf("You do not have permission to open %q.", e.Name)
	default:
		return fmt.Sprintf("The model file %q could not be loaded: %v", e.Name, e.Err)
	}
}

func mainFileError(name, id string, err error) *MainFileError {
	return &MainFileError{Name: name, ID: id, Status: backend.StatusOf(err), Err: err}
}
