// Package native defines the boundary between the bridge and a native messaging
// engine. The engine is consumed as an opaque handle plus a fixed set of entry
// points; everything it wants to tell the bridge arrives later through the
// Callbacks registered at creation time.
package native

import (
	"fmt"
)

// Handle identifies one native client instance. The zero value is never a
// valid handle.
type Handle uint64

// Valid reports whether h could refer to a live native client.
func (h Handle) Valid() bool { return h != 0 }

func (h Handle) String() string { return fmt.Sprintf("handle#%d", uint64(h)) }

// Status is the raw status code returned by a native entry point. Its meaning
// depends on the call; see Succeeded.
type Status int32

// StatusInvalidHandle is returned by every entry point once the handle has been
// torn down. It is the only status with a call-independent meaning.
const StatusInvalidHandle Status = -1

// Config provisions one native client.
type Config struct {
	// Identity is the account identity (phone number) the engine restores or
	// pairs. Empty means "pair a new device".
	Identity string
	// StorageRoot is where the engine keeps its datastore and saved media.
	StorageRoot string
	// Machine and Browser are the labels shown on the paired phone.
	Machine string
	Browser string
}

// Callbacks are the two entry points the engine invokes. Both are only ever
// invoked from inside PumpStep.
type Callbacks interface {
	// OnEvent receives one opaque event buffer per invocation. The slice must
	// not be retained by the engine after the call returns.
	OnEvent(payload []byte)
	// OnDisconnect reports that the native connection went away, either because
	// the remote side dropped it or because a Disconnect was acknowledged.
	OnDisconnect()
}

// Engine is the native messaging engine. Implementations must tolerate calls
// from multiple goroutines; the bridge guarantees that PumpStep is never
// called concurrently for the same handle.
type Engine interface {
	// Create provisions a client and registers cb for its whole lifetime.
	Create(cfg Config, cb Callbacks) (Handle, error)
	// Connect starts the connect/authenticate sequence. The outcome is only
	// observable through events.
	Connect(h Handle) Status
	// Disconnect requests teardown. The engine acknowledges with OnDisconnect
	// and afterwards answers StatusInvalidHandle.
	Disconnect(h Handle) Status
	// PumpStep advances the engine's internal loop once. It may block for a
	// short engine-defined interval and runs all pending callbacks.
	PumpStep(h Handle) Status

	SendMessage(h Handle, to string, body []byte, group bool) Status
	SendImage(h Handle, to, path, caption string, group bool) Status
	SendVideo(h Handle, to, path, caption string, group bool) Status
	SendAudio(h Handle, to, path string, group bool) Status
	SendDocument(h Handle, to, path, caption string, group bool) Status

	SetGroupName(h Handle, group, name string) Status
	SetGroupTopic(h Handle, group, topic string) Status
	SetGroupAnnounce(h Handle, group string, announce bool) Status
	SetGroupLocked(h Handle, group string, locked bool) Status
	JoinGroupWithInviteLink(h Handle, code string) Status

	// Query entry points return immediately; the answer arrives later as a
	// methodReturn event carrying requestID.
	GetGroupInviteLink(h Handle, group string, reset bool, requestID string) Status
	GetGroupInfo(h Handle, group, requestID string) Status
}
