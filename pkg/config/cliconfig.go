package config

import (
	"os"
	"strings"
	"sync"
)

type CliConfig struct {
	Username  string
	Password  string
	TokenFile string `default:"/etc/solarcharge-token"`
	APIURL    string `default:"https://account.chargepoint.com"`

	InfluxURL  string `default:"http://localhost:8086"`
	InfluxUser string
	InfluxPass string
	InfluxDB   string `default:"pvs6"`

	MQTTUrl   string
	MQTTTopic string `default:"solarcharge"`

	// TickInterval is in seconds, ControlInterval and SlopeWindow in minutes.
	TickInterval    int     `default:"60"`
	ControlInterval int     `default:"5"`
	SlopeWindow     int     `default:"30"`
	Voltage         float64 `default:"240"`

	LogLevel string `default:"info"`

	token string
	mutex sync.RWMutex
}

func (c *CliConfig) Token() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.token
}

func (c *CliConfig) SetToken(t string) {
	c.mutex.Lock()
	c.token = strings.TrimSpace(t)
	c.mutex.Unlock()
}

func (c *CliConfig) PersistToken() error {
	if c.TokenFile == "" {
		return nil
	}
	return os.WriteFile(c.TokenFile, []byte(c.Token()), 0600)
}

func (c *CliConfig) LoadToken() error {
	if c.TokenFile == "" {
		return nil
	}
	if _, err := os.Stat(c.TokenFile); err == nil {
		b, err := os.ReadFile(c.TokenFile)
		if err != nil {
			return err
		}
		if len(b) == 0 {
			return nil // dont load empty token
		}

		c.SetToken(string(b))
	}
	return nil
}
