package supervisor

import (
	"errors"
	"fmt"
)

// ClusterNotFoundError is returned by operations on a cluster name that is
// not configured
type ClusterNotFoundError struct {
	Name string
}

func (e *ClusterNotFoundError) Error() string {
	return fmt.Sprintf("cluster %q not found", e.Name)
}

// IsClusterNotFound reports whether err is a ClusterNotFoundError
func IsClusterNotFound(err error) bool {
	var nf *ClusterNotFoundError
	return errors.As(err, &nf)
}

// ErrShuttingDown is returned by operations issued after Shutdown
var ErrShuttingDown = errors.New("supervisor is shutting down")
