package repository

import "errors"

var (
	// ErrNotFound is returned when a workflow graph record is not found
	ErrNotFound = errors.New("workflow record not found")

	// ErrDuplicateName is returned when a workflow with the same name already exists
	ErrDuplicateName = errors.New("workflow with this name already exists")
)
