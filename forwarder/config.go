package forwarder

import (
	"io"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config enables a forwarder per present section.
type Config struct {
	UDP   *UDPConfig   `toml:"udp"`
	MQTT  *MQTTConfig  `toml:"mqtt"`
	Redis *RedisConfig `toml:"redis"`
}

func LoadConfigFromReader(configReader io.Reader) (Config, error) {
	config := Config{}
	if _, err := toml.NewDecoder(configReader).Decode(&config); err != nil {
		return Config{}, errors.Wrapf(err, "unable to load forwarder configuration")
	}
	return config, nil
}
