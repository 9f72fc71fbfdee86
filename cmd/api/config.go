package main

import (
	"encoding/json"
	"os"
	"time"
)

type Config struct {
	HttpPort     int    `json:"http_port"`
	DbConnString string `json:"db_conn_string"`
	RedisAddr    string `json:"redis_addr"`

	// GatewayURL is the SMS dispatch collaborator's endpoint.
	GatewayURL         string        `json:"gateway_url"`
	DispatchTimeoutStr string        `json:"dispatch_timeout"`
	DispatchTimeout    time.Duration `json:"-"`

	CryptoWebhookSecret string            `json:"crypto_webhook_secret"`
	CryptoWallets       map[string]string `json:"crypto_wallets"`

	MsgBatchSize    int           `json:"msg_batch_size"`
	PollIntervalStr string        `json:"poll_interval"`
	PollInterval    time.Duration `json:"-"`
	// MsgMaxRetry bounds in-cycle dispatch retries; MsgMaxAttempts bounds
	// cross-cycle attempts before a message is marked permanently failed.
	MsgMaxRetry    int `json:"msg_max_retry"`
	MsgMaxAttempts int `json:"msg_max_attempts"`
}

// ReadConfigJson reads json formatted configuration from the given file
func ReadConfigJson(configFile string) (*Config, error) {
	content, err := os.ReadFile(configFile)
	if err != nil {
		return nil, err
	}

	cfg := new(Config)

	if err = json.Unmarshal(content, cfg); err != nil {
		return nil, err
	}

	cfg.PollInterval, err = time.ParseDuration(cfg.PollIntervalStr)
	if err != nil {
		return nil, err
	}

	if cfg.DispatchTimeoutStr != "" {
		cfg.DispatchTimeout, err = time.ParseDuration(cfg.DispatchTimeoutStr)
		if err != nil {
			return nil, err
		}
	}

	return cfg, nil
}
