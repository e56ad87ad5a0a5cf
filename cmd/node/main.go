package main

import (
	"context"
	"flag"

	"github.com/sirupsen/logrus"

	"loranode/config"
	"loranode/executor"
	"loranode/gpio"
	"loranode/heartbeat"
)

func main() {

	if err := run(); err != nil {
		logrus.Fatal(err)
	}

}

func run() error {

	configPath := flag.String("config", "/opt/config/node.conf", "path to the YAML config")
	flag.Parse()

	conf, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	conf.Log.SetupLogging()

	logrus.Info("run application node")

	var pin gpio.Pin
	if conf.Node.Pin == "" {
		pin = gpio.NewTracePin(logrus.StandardLogger(), "led")
	} else {
		sysfs, err := gpio.OpenSysfs(conf.Node.Pin)
		if err != nil {
			return err
		}
		defer sysfs.Close()
		pin = sysfs
	}

	task := heartbeat.New(pin, logrus.WithField("task", "heartbeat"), heartbeat.PanicOnFault)

	ex := executor.New(executor.SystemClock, logrus.StandardLogger())
	ex.Spawn(task)

	// the heartbeat never retires and the context is never cancelled, so this
	// only returns if the executor itself breaks
	return ex.Run(context.Background())
}
