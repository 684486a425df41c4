package native

import (
	"errors"
	"fmt"
)

// ErrUnknownCall is returned by adapters asked to run an entry point they do
// not know.
var ErrUnknownCall = errors.New("native: unknown call")

// ProvisioningError reports that the engine could not allocate or initialise
// a client. No client is usable after it.
//
//	var perr *native.ProvisioningError
//	if errors.As(err, &perr) { ... }
type ProvisioningError struct {
	StorageRoot string
	Err         error
}

func (e *ProvisioningError) Error() string {
	if e.StorageRoot == "" {
		return fmt.Sprintf("native: provisioning failed: %v", e.Err)
	}
	return fmt.Sprintf("native: provisioning failed (storage %s): %v", e.StorageRoot, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// AsProvisioningError wraps err unless it already is a *ProvisioningError.
func AsProvisioningError(storageRoot string, err error) error {
	if err == nil {
		return nil
	}
	var perr *ProvisioningError
	if errors.As(err, &perr) {
		return err
	}
	return &ProvisioningError{StorageRoot: storageRoot, Err: err}
}
