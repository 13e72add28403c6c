package transport

import (
	"errors"
	"fmt"
)

// ErrAddressInUse reports a connect attempt to an address that already has
// a registered remote.
var ErrAddressInUse = errors.New("transport: remote address already registered")

// InvalidRemoteIDError reports an operation against a remote id this
// socket never allocated.
type InvalidRemoteIDError struct {
	ID RemoteID
}

func (e *InvalidRemoteIDError) Error() string {
	return fmt.Sprintf("transport: invalid remote id %d", e.ID)
}
