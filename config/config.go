package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

type Config struct {
	ScopeAddress   string `json:"scope_address"`    // IP or host of the scope. VICP port 1861 assumed if none given.
	TimeoutSeconds int    `json:"timeout_seconds"`  // dial and per-command deadline
	NumEvents      int    `json:"num_events"`       // number of events to capture in total
	NumSequence    int    `json:"num_sequence"`     // number of sequential events to capture at a time
	SixteenBit     bool   `json:"sixteen_bit"`      // configure scope for 16bit sample transfer
	HTTPServerPort string `json:"http_server_port"` // optional: serve live acquisition status when set

	ArchiveDatabase struct {
		Address  string `json:"address"`
		User     string `json:"user"`
		Password string `json:"password"`
		Database string `json:"database"`
		Table    string `json:"table"`
	} `json:"archive_database"`
}

func Default() *Config {
	return &Config{
		ScopeAddress:   "127.0.0.1",
		TimeoutSeconds: 1000,
		NumEvents:      1000,
		NumSequence:    1,
		SixteenBit:     true,
	}
}

func LoadConfig(filePath string) (*Config, error) {
	conf := Default()

	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	err = dec.Decode(conf)
	if err != nil {
		return nil, err
	}

	if err = conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

func (c *Config) Validate() error {
	if c.ScopeAddress == "" {
		return errors.New("no scope_address provided")
	}
	if c.NumEvents < 1 || c.NumSequence < 1 {
		return errors.New("num_events and num_sequence must be positive")
	}
	if c.NumEvents%c.NumSequence != 0 {
		return fmt.Errorf("#events %d must be a multiplicity of #sequences %d", c.NumEvents, c.NumSequence)
	}
	return nil
}
