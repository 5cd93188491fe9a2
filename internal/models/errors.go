package models

import (
	"fmt"
	"strings"
)

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// MissingColumnError reports required sheet columns that could not be mapped
type MissingColumnError struct {
	Table   string
	Columns []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s table is missing required column(s): %s", e.Table, strings.Join(e.Columns, ", "))
}

// IsTransient returns false; the source sheet has to be fixed
func (e *MissingColumnError) IsTransient() bool {
	return false
}
