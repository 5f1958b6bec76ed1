package guard

import "fmt"

// LockContentionError is returned when the resource lock could not be taken
// within the configured attempts. The caller should restart the whole
// operation against freshly loaded state.
type LockContentionError struct {
	Resource string
	Attempts int
}

func (e LockContentionError) Error() string {
	return fmt.Sprintf("lock contention on %s after %d attempts", e.Resource, e.Attempts)
}
