package record

import "fmt"

// PermissionError is raised when a caller attempts to modify a read-only
// record or a non-LWW column of a remote-origin row (spec.md §7).
type PermissionError struct {
	Table  string
	Column string
	Reason string
}

func (e *PermissionError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("record: permission denied on %s.%s: %s", e.Table, e.Column, e.Reason)
	}
	return fmt.Sprintf("record: permission denied on %s: %s", e.Table, e.Reason)
}

// NotFoundError is raised by Reload when the underlying row no longer
// exists (spec.md §7, §8 scenario 6).
type NotFoundError struct {
	Table    string
	SystemID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record: row %s.%s not found", e.Table, e.SystemID)
}
