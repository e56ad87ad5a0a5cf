package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jacobsa/go-serial/serial"
	"github.com/sirupsen/logrus"

	"loranode/codec"
	"loranode/config"
	"loranode/entity"
)

// Agent relays records between the node's serial line and the gateway
// server. Uplink frames must decode as SensorData, downlink messages as
// DeviceCommand; anything else is logged and dropped.
type Agent struct {
	connect *websocket.Conn
	port    io.ReadWriteCloser
	mutex   sync.Mutex
	Config  config.Config
	log     *logrus.Entry

	closeOnce sync.Once
}

// NewAgent opens the serial port and connects to the server. There is no
// reconnect; a failure is returned to the caller.
func NewAgent(conf *config.Config) (*Agent, error) {
	log := logrus.WithField("subsystem", "agent")

	log.Info("connect to device")
	port, err := connectToDevice(conf.Agent)
	if err != nil {
		return nil, err
	}

	log.Info("connect to socket")
	connect, err := connectToSocket(conf.Agent.Server, conf.Serial)
	if err != nil {
		port.Close()
		return nil, err
	}

	return New(*conf, port, connect, log), nil
}

func New(conf config.Config, port io.ReadWriteCloser, connect *websocket.Conn, log logrus.FieldLogger) *Agent {
	return &Agent{
		connect: connect,
		port:    port,
		Config:  conf,
		log:     log.WithField("serial_number", conf.Serial),
	}
}

func connectToDevice(conf config.Agent) (io.ReadWriteCloser, error) {
	options := serial.OpenOptions{
		PortName:        conf.Port,
		DataBits:        8,
		BaudRate:        conf.BaudRate,
		StopBits:        1,
		MinimumReadSize: 1,
	}

	port, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed connect to device %s: %w", conf.Port, err)
	}
	return port, nil
}

func connectToSocket(url string, serialNumber int) (*websocket.Conn, error) {
	connect, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}

	greet := entity.Greet{SerialNumber: serialNumber, TypeClient: entity.ClientController}

	byteGreet, err := json.Marshal(greet)
	if err != nil {
		connect.Close()
		return nil, fmt.Errorf("failed marshal json: %w", err)
	}

	if err := connect.WriteMessage(websocket.TextMessage, byteGreet); err != nil {
		connect.Close()
		return nil, fmt.Errorf("failed to greet server: %w", err)
	}

	_, mes, err := connect.ReadMessage()
	if err != nil {
		connect.Close()
		return nil, fmt.Errorf("failed read messages from server: %w", err)
	}

	if string(mes) != "ok" {
		connect.Close()
		return nil, fmt.Errorf("server refused controller: %q", mes)
	}

	return connect, nil
}

// Run relays in both directions until ctx is done or either side fails.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("start processing data")

	errc := make(chan error, 2)
	go func() { errc <- a.Uplink() }()
	go func() { errc <- a.Downlink() }()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errc:
	}

	a.Close()
	return err
}

// Uplink forwards sensor records read from the serial line.
func (a *Agent) Uplink() error {
	frames := codec.NewFrameReader(a.port)

	for {
		payload, err := frames.ReadFrame()
		if err != nil {
			if errors.Is(err, codec.ErrChecksum) || errors.Is(err, codec.ErrFrameTooLarge) {
				a.log.WithError(err).Warn("dropped frame")
				continue
			}
			return fmt.Errorf("read from device: %w", err)
		}

		reading, err := codec.DecodeSensorData(payload)
		if err != nil {
			a.log.WithError(err).Warn("dropped record")
			continue
		}
		a.log.WithField("reading", reading).Debug("uplink")

		a.mutex.Lock()
		err = a.connect.WriteMessage(websocket.BinaryMessage, payload)
		a.mutex.Unlock()

		if err != nil {
			return fmt.Errorf("connection to server lost: %w", err)
		}
	}
}

// Downlink writes device commands received from the server to the serial line.
func (a *Agent) Downlink() error {
	for {
		_, mes, err := a.connect.ReadMessage()
		if err != nil {
			return fmt.Errorf("connection to server lost: %w", err)
		}

		cmd, err := codec.DecodeCommand(mes)
		if err != nil {
			a.log.WithError(err).Warn("dropped command")
			continue
		}

		if err := codec.WriteFrame(a.port, mes); err != nil {
			return fmt.Errorf("failed write to device: %w", err)
		}
		a.log.WithField("command", cmd.Kind()).Info("command sent to device")
	}
}

func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		a.port.Close()
		a.connect.Close()
	})
}
