package csvimport

import "errors"

var (
	// ErrEmptyCSV is returned when the file has no data rows.
	ErrEmptyCSV = errors.New("CSV is empty or invalid")
	// ErrParseCSV wraps reader failures.
	ErrParseCSV = errors.New("Failed to parse CSV")
	// ErrNoValidProducts is returned when normalization keeps no rows.
	ErrNoValidProducts = errors.New("No valid products found in CSV")

	// ErrCategoryRequired is returned when no category was chosen.
	ErrCategoryRequired = errors.New("Please select a category")
	// ErrCategoryNameRequired is returned when "new" is chosen without a name.
	ErrCategoryNameRequired = errors.New("Please enter a category name")
	// ErrUnknownCategory is returned for ids missing from the category tree.
	ErrUnknownCategory = errors.New("selected category does not exist")
	// ErrInvalidStrategy is returned for anything other than add/replace.
	ErrInvalidStrategy = errors.New("quantity strategy must be add or replace")

	// ErrInvalidTransition is returned when an action does not apply to the current state.
	ErrInvalidTransition = errors.New("csvimport: invalid transition")
	// ErrSessionNotFound is returned by stores for unknown or expired sessions.
	ErrSessionNotFound = errors.New("csvimport: session not found")
	// ErrSessionBusy is returned when another request holds the session lock too long.
	ErrSessionBusy = errors.New("csvimport: session busy")
)

var inputErrors = []error{
	ErrEmptyCSV, ErrParseCSV, ErrNoValidProducts,
	ErrCategoryRequired, ErrCategoryNameRequired, ErrUnknownCategory, ErrInvalidStrategy,
}

// IsInputError reports whether err is an operator input problem rather than a backend failure.
func IsInputError(err error) bool {
	_, ok := inputError(err)
	return ok
}

// InputMessage returns the operator-facing text of an input error.
func InputMessage(err error) string {
	if target, ok := inputError(err); ok {
		return target.Error()
	}
	return err.Error()
}

func inputError(err error) (error, bool) {
	for _, target := range inputErrors {
		if errors.Is(err, target) {
			return target, true
		}
	}
	return nil, false
}
