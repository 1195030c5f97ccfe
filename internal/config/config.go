package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"statesync/internal/model"
)

// Server holds the server-side tunables.
type Server struct {
	Addr             string  `toml:"addr"`
	TickRate         int     `toml:"tick_rate"`
	ClientTimeoutMS  int     `toml:"client_timeout_ms"`
	InputRateLimit   float64 `toml:"input_rate_limit"`
	InputBurst       int     `toml:"input_burst"`
	SendQueueSize    int     `toml:"send_queue_size"`
	CommandQueueSize int     `toml:"command_queue_size"`
}

// Client holds the client-side tunables.
type Client struct {
	ServerAddr           string  `toml:"server_addr"`
	InterpolationDelayMS int     `toml:"interpolation_delay_ms"`
	HistoryMS            int     `toml:"history_ms"`
	ReconcileThreshold   float64 `toml:"reconcile_threshold"`
	InputHz              int     `toml:"input_hz"`
	PingIntervalMS       int     `toml:"ping_interval_ms"`
}

type Log struct {
	File  string `toml:"file"`
	Debug bool   `toml:"debug"`
}

type Config struct {
	Server Server `toml:"server"`
	Client Client `toml:"client"`
	Log    Log    `toml:"log"`
}

// Default returns the configuration used when no file overrides it. The
// movement speed, world bounds and tick rate are deliberately not tunables:
// they are protocol constants shared with every client (see internal/model).
func Default() Config {
	return Config{
		Server: Server{
			Addr:             ":8080",
			TickRate:         model.TickRate,
			ClientTimeoutMS:  10000,
			InputRateLimit:   120,
			InputBurst:       30,
			SendQueueSize:    64,
			CommandQueueSize: 1024,
		},
		Client: Client{
			ServerAddr:           "localhost:8080",
			InterpolationDelayMS: 100,
			HistoryMS:            1000,
			ReconcileThreshold:   0.1,
			InputHz:              60,
			PingIntervalMS:       1000,
		},
		Log: Log{
			File: "",
		},
	}
}

// Load reads a TOML file over the defaults. A missing file is not an error;
// the defaults apply unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (s Server) TickInterval() time.Duration {
	return time.Second / time.Duration(s.TickRate)
}

func (s Server) ClientTimeout() time.Duration {
	return time.Duration(s.ClientTimeoutMS) * time.Millisecond
}

func (c Client) InterpolationDelay() time.Duration {
	return time.Duration(c.InterpolationDelayMS) * time.Millisecond
}

func (c Client) History() time.Duration {
	return time.Duration(c.HistoryMS) * time.Millisecond
}

func (c Client) InputInterval() time.Duration {
	return time.Second / time.Duration(c.InputHz)
}

func (c Client) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalMS) * time.Millisecond
}
