package transport

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"casambi-go/internal/logging"
)

// Default timeouts for the bridge link.
const (
	bridgeWriteTimeout = 10 * time.Second
	bridgePingInterval = 30 * time.Second
)

// bridgeMessage is the JSON envelope spoken over the websocket GATT tunnel
// of an ESPHome bluetooth proxy bridge.
type bridgeMessage struct {
	Type           string `json:"type"`
	Address        string `json:"address,omitempty"`
	Characteristic string `json:"characteristic,omitempty"`
	Data           string `json:"data,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Bridge message types.
const (
	msgConnect    = "connect"
	msgWrite      = "write"
	msgRead       = "read"
	msgReadResult = "read_result"
	msgSubscribe  = "subscribe"
	msgNotify     = "notify"
	msgError      = "error"
)

// Bridge is a Transport that tunnels GATT operations through a websocket
// to an ESPHome bluetooth proxy. Writes become proxied GATT writes and
// characteristic notifications stream back as frames.
type Bridge struct {
	conn    *websocket.Conn
	address string

	writeMu sync.Mutex

	notifications chan []byte
	readResults   chan []byte

	closeOnce sync.Once
	done      chan struct{}
	readErr   error
}

// DialBridge connects to a proxy at url, attaches to the device with the
// given BLE address and subscribes to its auth characteristic.
func DialBridge(ctx context.Context, url, deviceAddress string) (*Bridge, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial proxy %s: %w", url, err)
	}

	b := &Bridge{
		conn:          conn,
		address:       deviceAddress,
		notifications: make(chan []byte, 32),
		readResults:   make(chan []byte, 1),
		done:          make(chan struct{}),
	}

	if err := b.send(bridgeMessage{Type: msgConnect, Address: deviceAddress}); err != nil {
		conn.Close()
		return nil, err
	}
	if err := b.send(bridgeMessage{Type: msgSubscribe, Characteristic: AuthCharUUID}); err != nil {
		conn.Close()
		return nil, err
	}

	logging.LogConnection(deviceAddress, "proxy attached")
	go b.readPump()
	go b.pingLoop()
	return b, nil
}

// readPump demultiplexes inbound bridge messages until the socket dies.
func (b *Bridge) readPump() {
	defer b.shutdown()

	for {
		var msg bridgeMessage
		if err := b.conn.ReadJSON(&msg); err != nil {
			b.readErr = err
			return
		}

		switch msg.Type {
		case msgNotify:
			frame, err := hex.DecodeString(msg.Data)
			if err != nil {
				logging.Warn("Dropping notification with bad payload encoding",
					zap.String("data", msg.Data))
				continue
			}
			select {
			case b.notifications <- frame:
			default:
				logging.Warn("Notification buffer full, dropping frame",
					zap.String("address", b.address))
			}
		case msgReadResult:
			frame, err := hex.DecodeString(msg.Data)
			if err != nil {
				logging.Warn("Dropping read result with bad payload encoding",
					zap.String("data", msg.Data))
				continue
			}
			select {
			case b.readResults <- frame:
			default:
			}
		case msgError:
			logging.Error("Proxy reported error",
				zap.String("address", b.address),
				zap.String("message", msg.Message))
		default:
			logging.Debug("Ignoring bridge message",
				zap.String("type", msg.Type))
		}
	}
}

func (b *Bridge) pingLoop() {
	ticker := time.NewTicker(bridgePingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.writeMu.Lock()
			err := b.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(bridgeWriteTimeout))
			b.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) send(msg bridgeMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshal bridge message: %w", err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.conn.SetWriteDeadline(time.Now().Add(bridgeWriteTimeout))
	if err := b.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("transport: write to proxy: %w", err)
	}
	return nil
}

func (b *Bridge) Write(ctx context.Context, frame []byte) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	return b.send(bridgeMessage{
		Type:           msgWrite,
		Characteristic: AuthCharUUID,
		Data:           hex.EncodeToString(frame),
	})
}

func (b *Bridge) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-b.notifications:
		return frame, nil
	case <-b.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bridge) ReadCharacteristic(ctx context.Context) ([]byte, error) {
	if err := b.send(bridgeMessage{Type: msgRead, Characteristic: AuthCharUUID}); err != nil {
		return nil, err
	}

	select {
	case frame := <-b.readResults:
		return frame, nil
	case <-b.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears down the websocket. Safe to call more than once.
func (b *Bridge) Close() error {
	b.shutdown()
	return nil
}

func (b *Bridge) shutdown() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.conn.Close()
		logging.LogConnection(b.address, "proxy detached")
	})
}
