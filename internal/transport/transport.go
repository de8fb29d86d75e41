package transport

import (
	"context"
	"errors"
)

// GATT characteristic UUIDs exposed by mesh devices. All session traffic,
// handshake included, runs over the auth characteristic.
const (
	ServiceUUID  = "0000fe4d-0000-1000-8000-00805f9b34fb"
	AuthCharUUID = "c9ffde48-ca5a-0001-ab83-8f519b482f77"
)

// ErrClosed is returned by Read and Write after the transport has been
// closed, locally or by the remote end.
var ErrClosed = errors.New("transport: closed")

// Transport moves opaque frames between the protocol engine and a device's
// auth characteristic. Write corresponds to a GATT write, Read to the next
// notification. Implementations must allow one reader and one writer to
// operate concurrently.
type Transport interface {
	// Write sends one frame to the device.
	Write(ctx context.Context, frame []byte) error

	// Read blocks until the next notification frame arrives, the context
	// is cancelled, or the transport closes.
	Read(ctx context.Context) ([]byte, error)

	// ReadCharacteristic performs a direct read of the auth
	// characteristic. Devices answer the first read with their session
	// parameters before any notifications flow.
	ReadCharacteristic(ctx context.Context) ([]byte, error)

	// Close tears down the link. Pending and future calls fail with
	// ErrClosed.
	Close() error
}
