package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"loranode/metrics"
	"loranode/server/socket"
	socketIO "loranode/server/socketio"
	"loranode/telemetry"
)

type Server struct {
	httpServer *http.Server
	gin        *gin.Engine

	log *logrus.Entry

	wg sync.WaitGroup

	socket     *socket.Hub
	socketIO   *socketIO.SocketIO
	publishers []telemetry.Publisher
	metrics    *metrics.Metrics
	validate   *validator.Validate

	now func() time.Time
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// NewServer starts the gateway: the HTTP API, the controller websocket and
// the socket.io endpoint. Decoded readings go to socket.io subscribers and to
// every extra publisher.
func NewServer(bindAddr string, publishers ...telemetry.Publisher) (*Server, error) {
	sio := socketIO.NewSocketIO(logrus.StandardLogger())
	go sio.Serve()

	server := newServer(sio, append([]telemetry.Publisher{sio}, publishers...))

	server.httpServer = &http.Server{
		Addr:    bindAddr,
		Handler: server.gin,
	}

	server.wg.Add(1)

	go func() {
		defer server.wg.Done()

		server.log.WithField("addr", bindAddr).Info("starting")

		if err := server.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			server.log.WithError(err).Error("failed to start")
		}
	}()

	return server, nil
}

func newServer(sio *socketIO.SocketIO, publishers []telemetry.Publisher) *Server {
	server := &Server{
		log:        logrus.WithField("subsystem", "web_server"),
		socketIO:   sio,
		publishers: publishers,
		metrics:    metrics.New(),
		validate:   validator.New(),
		now:        time.Now,
	}

	server.socket = socket.New(server.Uplink, func(n int) {
		server.metrics.Controllers.Set(float64(n))
	}, logrus.StandardLogger())

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(CORSMiddleware())

	r := router.Group("api/v1")
	{
		r.POST("/device/:serial/command", server.Command)
		r.GET("/devices", server.Devices)
	}

	router.GET("/ws", gin.WrapH(server.socket))
	router.GET("/metrics", gin.WrapH(server.metrics.Handler()))

	if sio != nil {
		router.GET("/socket.io/*any", gin.WrapH(sio))
		router.POST("/socket.io/*any", gin.WrapH(sio))
	}

	server.gin = router
	return server
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Error("failed to gracefull shutdown")
		}
	}

	s.socket.Close()

	if s.socketIO != nil {
		if err := s.socketIO.Close(); err != nil {
			s.log.WithError(err).Error("failed to close socket.io")
		}
	}

	s.wg.Wait()
}
