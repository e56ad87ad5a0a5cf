package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"loranode/config"
	"loranode/server"
	"loranode/telemetry"
)

func main() {
	if err := run(); err != nil {
		logrus.Fatal(err)
	}
}

func run() error {

	configPath := flag.String("config", "/opt/config/server.conf", "path to the YAML config")
	flag.Parse()

	conf, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	conf.Log.SetupLogging()

	var publishers []telemetry.Publisher

	if conf.Server.MQTTBroker != "" {
		publisher, client, err := telemetry.Connect(conf.Server.MQTTBroker, conf.Server.MQTTClient, conf.Server.MQTTTopic)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)

		publishers = append(publishers, publisher)
		logrus.WithField("broker", conf.Server.MQTTBroker).Info("publishing telemetry to MQTT")
	}

	server, err := server.NewServer(conf.Server.Bind, publishers...)

	if err != nil {
		return err
	}

	defer server.Stop()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	logrus.Infof("captured %v signal, stopping", <-signals)

	return nil
}
