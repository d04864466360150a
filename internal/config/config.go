package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

type Config struct {
	Database struct {
		Enabled            bool   `json:"enabled"`
		Host               string `json:"host"`
		Port               uint64 `json:"port"`
		Username           string `json:"username"`
		Password           string `json:"password"`
		Database           string `json:"database"`
		UseTLS             bool   `json:"use_tls"`
		ConnectTimeout     string `json:"connect_timeout"`
		SocketTimeout      string `json:"socket_timeout"`
		ConnectIdleTimeout string `json:"connect_idle_timeout"`
		OperationTimeout   string `json:"operation_timeout"`
		Heartbeat          string `json:"heartbeat"`
		MinPoolSize        uint64 `json:"min_pool_size"`
		MaxPoolSize        uint64 `json:"max_pool_size"`
	} `json:"database"`
	Relay struct {
		ListenHost          string            `json:"listen_host"`
		ListenPort          int               `json:"listen_port"`
		SharedToken         string            `json:"shared_token"`
		SessionTokens       map[string]string `json:"session_tokens"`
		DefaultSession      string            `json:"default_session"`
		HealthCheckInterval string            `json:"health_check_interval"`
		InactiveTimeout     string            `json:"inactive_timeout"`
		RequestTimeout      string            `json:"request_timeout"`
		SweepInterval       string            `json:"sweep_interval"`
		ScreenshotDir       string            `json:"screenshot_dir"`
	} `json:"relay"`
	DebugMode bool   `json:"debug_mode"`
	AppName   string `json:"app_name"`
	AppPort   int    `json:"app_port"`
}

var config Config
var initialized = false

func DefaultConfig() Config {
	var c Config
	c.AppName = "screen-relay"
	c.AppPort = 6191
	c.Relay.ListenHost = "0.0.0.0"
	c.Relay.ListenPort = 6190
	c.Relay.HealthCheckInterval = "60s"
	c.Relay.InactiveTimeout = "120s"
	c.Relay.RequestTimeout = "30s"
	c.Relay.SweepInterval = "5s"
	c.Relay.ScreenshotDir = "temp/remote_screenshots"
	c.Database.OperationTimeout = "5s"
	c.Database.ConnectTimeout = "10s"
	c.Database.SocketTimeout = "10s"
	c.Database.ConnectIdleTimeout = "60s"
	c.Database.Heartbeat = "10s"
	c.Database.MinPoolSize = 1
	c.Database.MaxPoolSize = 16
	return c
}

func ReadConfig() (Config, error) {
	bytes, err := os.ReadFile("config.json")

	if err != nil {
		data, _ := json.MarshalIndent(DefaultConfig(), "", "\t")
		if writeErr := os.WriteFile("config.json", data, 0644); writeErr != nil {
			return config, fmt.Errorf("failed to create template configuration file: %w", writeErr)
		}
		return config, errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	}

	config = DefaultConfig()
	err = json.Unmarshal(bytes, &config)

	if err != nil {
		return config, errors.New("the configuration file does not contain valid JSON")
	}

	initialized = true
	return config, nil
}

func GetConfig() (Config, error) {
	if initialized {
		return config, nil
	}
	return ReadConfig()
}
