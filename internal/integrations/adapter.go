package integrations

import (
    "fmt"
    "io"

    "tourplan/internal/model"
)

// Source turns an uploaded document into packages ready to be stored.
type Source interface {
    Name() string
    Packages(r io.Reader) ([]model.PackageInput, error)
}

// RowError reports a malformed input row; Row is 1-based and counts the header.
type RowError struct {
    Row    int
    Column string
    Err    error
}

func (e *RowError) Error() string {
    if e.Column == "" { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }
    return fmt.Sprintf("row %d, %s: %v", e.Row, e.Column, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }
