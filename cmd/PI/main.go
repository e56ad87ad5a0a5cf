package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"loranode/agent"
	"loranode/config"
)

func main() {

	if err := run(); err != nil {
		logrus.Fatal(err)
	}

}

func run() error {

	configPath := flag.String("config", "/opt/config/pi.conf", "path to the YAML config")
	flag.Parse()

	conf, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	if err := conf.ValidateAgent(); err != nil {
		return err
	}

	conf.Log.SetupLogging()

	logrus.Info("run application PI")

	st := time.Now()
	defer func() {
		logrus.WithField("shutdown_time", time.Now().Sub(st)).Info("stopped")
	}()

	agent, err := agent.NewAgent(&conf)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = agent.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}
