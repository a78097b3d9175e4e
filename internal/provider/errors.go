package provider

import (
	"errors"
	"fmt"
)

// ErrNoLocation means no explicit location, no configured place and no
// fallback location was available, so no request was sent. The display
// layer should hide itself until a location appears.
var ErrNoLocation = errors.New("no location configured")

// UnknownProviderError names a provider identifier missing from the registry.
type UnknownProviderError struct {
	ID string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown weather alert provider %q", e.ID)
}
