package socket

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

// New starts a hub; handler receives uplink messages from controllers and
// onCount, if not nil, the number of connected controllers after each change.
func New(handler Handler, onCount func(n int), log logrus.FieldLogger) *Hub {
	hub := newHub(handler, log)
	hub.onCount = onCount
	go hub.Run()
	return hub
}

// ServeHTTP upgrades a controller connection and registers it with the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveWs(h, w, r)
}
