package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"loranode/codec"
	"loranode/entity"
)

// Command encodes a device command and hands it to the controller that
// serves the device.
func (s *Server) Command(c *gin.Context) {
	serialNumber, err := strconv.Atoi(c.Param("serial"))

	if err != nil || serialNumber < 1 {
		c.JSON(http.StatusBadRequest, entity.Response{Status: http.StatusBadRequest, Message: "Status Bad Request"})
		return
	}

	var request entity.CommandRequest

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, entity.Response{Status: http.StatusBadRequest, Message: "Status Bad Request"})
		return
	}

	if err := s.validate.Struct(request); err != nil {
		c.JSON(http.StatusBadRequest, entity.Response{Status: http.StatusBadRequest, Message: err.Error()})
		return
	}

	command, err := request.ToCommand()

	if err != nil {
		c.JSON(http.StatusBadRequest, entity.Response{Status: http.StatusBadRequest, Message: err.Error()})
		return
	}

	dataBytes, err := codec.EncodeCommand(command)

	if err != nil {
		s.log.WithError(err).Error("failed to encode command")
		c.JSON(http.StatusInternalServerError, entity.Response{Status: http.StatusInternalServerError, Message: "Status Internal Server Error"})
		return
	}

	if !s.socket.Send(serialNumber, dataBytes) {
		c.JSON(http.StatusNotFound, entity.Response{Status: http.StatusNotFound, Message: "controller not connected"})
		return
	}

	s.metrics.CommandsSent.WithLabelValues(command.Kind().String()).Inc()
	s.log.WithField("serial_number", serialNumber).WithField("command", command.Kind()).Info("command sent")

	c.JSON(http.StatusOK, entity.Response{Status: http.StatusOK, Message: "ok"})
}

func (s *Server) Devices(c *gin.Context) {
	c.JSON(http.StatusOK, entity.Response{Status: http.StatusOK, Data: s.socket.Serials()})
}

// Uplink handles a record sent by a controller. Records that do not decode
// are counted and discarded.
func (s *Server) Uplink(serialNumber int, message []byte) {
	s.metrics.FramesReceived.Inc()

	reading, err := codec.DecodeSensorData(message)
	if err != nil {
		s.metrics.DecodeErrors.WithLabelValues(codec.TagSensorData.String()).Inc()
		s.log.WithError(err).WithField("serial_number", serialNumber).Warn("dropped record")
		return
	}

	t := entity.Telemetry{
		SerialNumber: serialNumber,
		Reading:      reading,
		ReceivedAt:   s.now(),
	}

	for _, p := range s.publishers {
		if err := p.Publish(t); err != nil {
			s.log.WithError(err).WithField("serial_number", serialNumber).Error("failed to publish telemetry")
		}
	}
}
