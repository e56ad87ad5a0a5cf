package config

import (
	"errors"
	"fmt"
	"io/ioutil"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Serial int       `yaml:"serial"`
	Log    LogConfig `yaml:"log"`
	Node   Node      `yaml:"node"`
	Agent  Agent     `yaml:"agent"`
	Server Server    `yaml:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Node struct {
	Pin string `yaml:"pin"`
}

type Agent struct {
	Port     string `yaml:"port"`
	BaudRate uint   `yaml:"baud_rate"`
	Server   string `yaml:"server"`
}

type Server struct {
	Bind       string `yaml:"bind"`
	MQTTBroker string `yaml:"mqtt_broker"`
	MQTTTopic  string `yaml:"mqtt_topic"`
	MQTTClient string `yaml:"mqtt_client_id"`
}

func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Agent: Agent{
			Port:     "/dev/ttyAMA0",
			BaudRate: 115200,
			Server:   "ws://localhost:4000/ws",
		},
		Server: Server{
			Bind:       ":4000",
			MQTTTopic:  "lora",
			MQTTClient: "lora-gateway",
		},
	}
}

func (c Config) Validate() error {
	if c.Serial < 0 {
		return errors.New("serial must not be negative")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format %q: want text or json", c.Log.Format)
	}
	if c.Agent.BaudRate == 0 {
		return errors.New("agent.baud_rate is empty")
	}
	return nil
}

// ValidateAgent checks what the gateway agent needs on top of Validate.
func (c Config) ValidateAgent() error {
	if c.Serial == 0 {
		return errors.New("serial is empty")
	}
	if c.Agent.Port == "" {
		return errors.New("agent.port is empty")
	}
	if c.Agent.Server == "" {
		return errors.New("agent.server is empty")
	}
	return nil
}

func LoadConfig(configPath string) (Config, error) {
	configYAML, err := ioutil.ReadFile(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s file: %w", configPath, err)
	}

	c := Default()

	err = yaml.Unmarshal(configYAML, &c)
	if err != nil {
		return Config{}, fmt.Errorf("YAML unmarshal config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	return c, nil
}

// SetupLogging applies the log section to the standard logrus logger.
func (c LogConfig) SetupLogging() {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if c.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}
