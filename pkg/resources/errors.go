package resources

import (
	"fmt"
)

// ClientError is returned when a list, watch or delete call against the
// cluster fails. Unwrap exposes the underlying error so that apierrors.IsX
// helpers keep working.
type ClientError struct {
	Op        string
	Kind      Kind
	Namespace string
	Err       error
}

func (e *ClientError) Error() string {
	if e.Namespace == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s in namespace %q: %v", e.Op, e.Kind, e.Namespace, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }
