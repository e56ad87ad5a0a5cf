package server

import (
	"encoding/json"
	"io/ioutil"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/session"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"

	"loranode/codec"
	"loranode/entity"
	socketIO "loranode/server/socketio"
	"loranode/telemetry"
)

type chanPublisher chan entity.Telemetry

func (p chanPublisher) Publish(t entity.Telemetry) error {
	p <- t
	return nil
}

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func startServer(t *testing.T) (*Server, *httptest.Server, chanPublisher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	published := make(chanPublisher, 8)
	s := newServer(nil, []telemetry.Publisher{published})
	s.now = func() time.Time { return fixedNow }

	srv := httptest.NewServer(s.gin)
	t.Cleanup(func() {
		srv.Close()
		s.Stop()
	})
	return s, srv, published
}

func connectController(t *testing.T, srv *httptest.Server, serial int) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := conn.WriteJSON(entity.Greet{SerialNumber: serial, TypeClient: entity.ClientController}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, reply, err := conn.ReadMessage(); err != nil || string(reply) != "ok" {
		t.Fatalf("greeting reply %q, %v", reply, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func post(t *testing.T, srv *httptest.Server, path, body string) (int, entity.Response) {
	t.Helper()

	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out entity.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, out
}

func waitDevices(t *testing.T, srv *httptest.Server, want int) []int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(srv.URL + "/api/v1/devices")
		if err != nil {
			t.Fatal(err)
		}
		var out struct {
			Data []int `json:"data"`
		}
		json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()

		if len(out.Data) == want {
			return out.Data
		}
		if time.Now().After(deadline) {
			t.Fatalf("devices=%v want %d", out.Data, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCommandValidation(t *testing.T) {
	_, srv, _ := startServer(t)

	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{name: "bad serial", path: "/api/v1/device/abc/command", body: `{"command":"reset"}`, code: http.StatusBadRequest},
		{name: "zero serial", path: "/api/v1/device/0/command", body: `{"command":"reset"}`, code: http.StatusBadRequest},
		{name: "bad json", path: "/api/v1/device/1/command", body: `{"command":`, code: http.StatusBadRequest},
		{name: "unknown command", path: "/api/v1/device/1/command", body: `{"command":"reboot"}`, code: http.StatusBadRequest},
		{name: "negative interval", path: "/api/v1/device/1/command", body: `{"command":"set_interval","interval":-1}`, code: http.StatusBadRequest},
		{name: "missing interval", path: "/api/v1/device/1/command", body: `{"command":"set_interval"}`, code: http.StatusBadRequest},
		{name: "no controller", path: "/api/v1/device/1/command", body: `{"command":"sleep"}`, code: http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, resp := post(t, srv, tc.path, tc.body)
			if code != tc.code || resp.Status != tc.code {
				t.Fatalf("code=%d status=%d want %d (%s)", code, resp.Status, tc.code, resp.Message)
			}
		})
	}
}

func TestCommandReachesController(t *testing.T) {
	_, srv, _ := startServer(t)
	conn := connectController(t, srv, 101)

	if devices := waitDevices(t, srv, 1); devices[0] != 101 {
		t.Fatalf("devices=%v want [101]", devices)
	}

	code, resp := post(t, srv, "/api/v1/device/101/command", `{"command":"set_interval","interval":60}`)
	if code != http.StatusOK {
		t.Fatalf("code=%d message=%q", code, resp.Message)
	}

	typ, mes, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if typ != websocket.BinaryMessage {
		t.Fatalf("message type=%d want binary", typ)
	}
	cmd, err := codec.DecodeCommand(mes)
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if cmd != (entity.SetInterval{Interval: 60}) {
		t.Fatalf("command=%#v want SetInterval(60)", cmd)
	}
}

func TestUplinkPublishesTelemetry(t *testing.T) {
	_, srv, published := startServer(t)
	conn := connectController(t, srv, 7)

	reading := entity.SensorData{Temperature: 22.5, Humidity: 45, Pressure: 1013.25, GasResistance: 12000}
	sleep, _ := codec.EncodeCommand(entity.Sleep{})

	if err := conn.WriteMessage(websocket.BinaryMessage, sleep); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, codec.EncodeSensorData(reading)); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-published:
		want := entity.Telemetry{SerialNumber: 7, Reading: reading, ReceivedAt: fixedNow}
		if got != want {
			t.Fatalf("telemetry=%+v want %+v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("telemetry not published")
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := ioutil.ReadAll(resp.Body)
	resp.Body.Close()

	for _, want := range []string{
		"lora_frames_received_total 2",
		`lora_decode_errors_total{record="sensor_data"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }

func (doneToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

type mqttRecorder chan []byte

func (r mqttRecorder) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	r <- payload.([]byte)
	return doneToken{}
}

func readEngineIO(t *testing.T, conn engineio.Conn) string {
	t.Helper()

	packets := make(chan string, 1)
	go func() {
		_, r, err := conn.NextReader()
		if err != nil {
			packets <- "error: " + err.Error()
			return
		}
		b, _ := ioutil.ReadAll(r)
		r.Close()
		packets <- strings.TrimSpace(string(b))
	}()

	select {
	case p := <-packets:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("no socket.io packet")
	}
	return ""
}

func TestUplinkNonFiniteReachesEveryPublisher(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()

	sio := socketIO.NewSocketIO(log)
	go sio.Serve()

	broker := make(mqttRecorder, 1)
	s := newServer(sio, []telemetry.Publisher{sio, telemetry.NewMQTTPublisher(broker, "lora")})
	s.now = func() time.Time { return fixedNow }

	srv := httptest.NewServer(s.gin)
	t.Cleanup(func() {
		srv.Close()
		s.Stop()
	})

	dialer := engineio.Dialer{Transports: []transport.Transport{polling.Default}}
	browser, err := dialer.Dial(srv.URL+"/socket.io/", nil)
	if err != nil {
		t.Fatalf("Dial socket.io: %v", err)
	}
	defer browser.Close()

	if p := readEngineIO(t, browser); p != "0" {
		t.Fatalf("connect packet %q", p)
	}
	w, err := browser.NextWriter(session.TEXT)
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte(`2["subscribe","5"]`))
	w.Close()
	if p := readEngineIO(t, browser); p != `3["ok"]` {
		t.Fatalf("subscribe reply %q", p)
	}

	reading := entity.SensorData{Temperature: float32(math.NaN()), Humidity: 45, Pressure: float32(math.Inf(-1)), GasResistance: 12000}
	s.Uplink(5, codec.EncodeSensorData(reading))

	check := func(name string, payload []byte) {
		var got entity.Telemetry
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("%s payload %s: %v", name, payload, err)
		}
		if got.SerialNumber != 5 || !math.IsNaN(float64(got.Reading.Temperature)) ||
			!math.IsInf(float64(got.Reading.Pressure), -1) || got.Reading.Humidity != 45 {
			t.Fatalf("%s telemetry=%+v", name, got)
		}
	}

	select {
	case payload := <-broker:
		check("mqtt", payload)
	case <-time.After(5 * time.Second):
		t.Fatal("reading not published to MQTT")
	}

	event := readEngineIO(t, browser)
	var args []json.RawMessage
	if !strings.HasPrefix(event, "2") || json.Unmarshal([]byte(event[1:]), &args) != nil || len(args) != 2 {
		t.Fatalf("socket.io packet %q", event)
	}
	check("socket.io", args[1])
}
