package socket

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler receives every binary message a controller sends.
type Handler func(serialNumber int, message []byte)

type outbound struct {
	serialNumber int
	message      []byte
	result       chan bool
}

// Hub maintains the set of active controllers, one per serial number, and
// routes downlink messages to them.
type Hub struct {
	// Registered clients by serial number.
	clients map[int]*Client

	register   chan *Client
	unregister chan *Client
	send       chan outbound
	list       chan chan []int
	stop       chan struct{}
	stopOnce   sync.Once

	handler Handler

	onCount func(n int)

	log *logrus.Entry
}

func newHub(handler Handler, log logrus.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[int]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		send:       make(chan outbound),
		list:       make(chan chan []int),
		stop:       make(chan struct{}),
		handler:    handler,
		log:        log.WithField("subsystem", "socket_hub"),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			for serial, client := range h.clients {
				delete(h.clients, serial)
				close(client.send)
			}
			return

		case client := <-h.register:
			if old, ok := h.clients[client.serialNumber]; ok {
				h.log.WithField("serial_number", client.serialNumber).Info("replacing controller")
				close(old.send)
			}
			h.clients[client.serialNumber] = client
			h.count()

		case client := <-h.unregister:
			if h.clients[client.serialNumber] == client {
				delete(h.clients, client.serialNumber)
				close(client.send)
				h.count()
			}

		case out := <-h.send:
			client, ok := h.clients[out.serialNumber]
			if ok {
				select {
				case client.send <- out.message:
				default:
					h.log.WithField("serial_number", client.serialNumber).Warn("send buffer full, dropping controller")
					close(client.send)
					delete(h.clients, client.serialNumber)
					h.count()
					ok = false
				}
			}
			out.result <- ok

		case reply := <-h.list:
			serials := make([]int, 0, len(h.clients))
			for serial := range h.clients {
				serials = append(serials, serial)
			}
			sort.Ints(serials)
			reply <- serials
		}
	}
}

// Close stops Run and disconnects every controller.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) count() {
	h.log.WithField("controllers", len(h.clients)).Debug("controllers changed")
	if h.onCount != nil {
		h.onCount(len(h.clients))
	}
}

// Send queues message for the controller with serialNumber. It reports
// false when no such controller is connected.
func (h *Hub) Send(serialNumber int, message []byte) bool {
	result := make(chan bool, 1)
	select {
	case h.send <- outbound{serialNumber: serialNumber, message: message, result: result}:
	case <-h.stop:
		return false
	}
	return <-result
}

// Serials lists connected controllers in ascending order.
func (h *Hub) Serials() []int {
	reply := make(chan []int, 1)
	select {
	case h.list <- reply:
	case <-h.stop:
		return nil
	}
	return <-reply
}
