package dbi

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config describes a database to connect to.
type Config struct {
	Engine   string `yaml:"engine" mapstructure:"engine" validate:"required"`
	Database string `yaml:"database" mapstructure:"database" validate:"required"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Host     string `yaml:"host" mapstructure:"host"`
	// Port is a TCP port number or, for engines that support it, the path of
	// a unix socket.
	Port string `yaml:"port" mapstructure:"port"`
	// Options are passed to the engine as driver parameters.
	Options map[string]string `yaml:"options" mapstructure:"options"`
}

var validate = validator.New()

func (c Config) withDefaults() Config {
	if c.Engine == "" {
		c.Engine = EngineMySQL.String()
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	return c
}

// Validate checks that the required fields are set and the engine name is known.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("dbi: invalid config: %w", err)
	}
	if _, err := ParseEngine(c.Engine); err != nil {
		return err
	}
	return nil
}

// LoadConfig reads a YAML file holding a Config.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("dbi: read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("dbi: parse config %s: %w", path, err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
