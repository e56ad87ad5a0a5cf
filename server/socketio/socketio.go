// Package socketio pushes decoded telemetry to browser clients.
//
// A client emits "subscribe" with a device serial number and then receives
// a "telemetry" event for every reading from that device.
package socketio

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	socketio "github.com/googollee/go-socket.io"
	"github.com/sirupsen/logrus"

	"loranode/entity"
)

const (
	namespace      = "/"
	eventSubscribe = "subscribe"
	eventTelemetry = "telemetry"
)

type SocketIO struct {
	server *socketio.Server
	log    *logrus.Entry
}

// Room is the socket.io room carrying one device's telemetry.
func Room(serialNumber int) string {
	return "device/" + strconv.Itoa(serialNumber)
}

func NewSocketIO(log logrus.FieldLogger) *SocketIO {
	s := &SocketIO{
		server: socketio.NewServer(nil),
		log:    log.WithField("subsystem", "socket_io"),
	}

	s.server.OnConnect(namespace, func(c socketio.Conn) error {
		s.log.WithField("id", c.ID()).Debug("connected")
		return nil
	})

	s.server.OnEvent(namespace, eventSubscribe, func(c socketio.Conn, serial string) string {
		serialNumber, err := strconv.Atoi(serial)
		if err != nil || serialNumber < 1 {
			return "invalid serial number"
		}
		c.Join(Room(serialNumber))
		s.log.WithField("id", c.ID()).WithField("room", Room(serialNumber)).Debug("subscribed")
		return "ok"
	})

	s.server.OnError(namespace, func(c socketio.Conn, err error) {
		s.log.WithError(err).Warn("socket.io error")
	})

	s.server.OnDisconnect(namespace, func(c socketio.Conn, reason string) {
		s.log.WithField("id", c.ID()).WithField("reason", reason).Debug("disconnected")
	})

	return s
}

func (s *SocketIO) Serve() {
	if err := s.server.Serve(); err != nil {
		s.log.WithError(err).Error("serve failed")
	}
}

func (s *SocketIO) Close() error {
	return s.server.Close()
}

func (s *SocketIO) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.ServeHTTP(w, r)
}

// Publish broadcasts t to the subscribers of its device. The server encodes
// per connection and drops events it cannot marshal, so the payload is
// checked here first.
func (s *SocketIO) Publish(t entity.Telemetry) error {
	if _, err := json.Marshal(t); err != nil {
		return fmt.Errorf("failed to marshal telemetry: %w", err)
	}
	if !s.server.BroadcastToRoom(namespace, Room(t.SerialNumber), eventTelemetry, t) {
		return fmt.Errorf("socket.io namespace %s is not registered", namespace)
	}
	return nil
}
