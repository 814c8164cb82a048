package config

import (
	"flag"
	"os"
	"regexp"

	"github.com/cybre/deskbridge/internal/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultAccessoriesPath = "accessories.yaml"
	defaultBridgeName      = "Desk Bridge"
	defaultPin             = "00102003"
	defaultStorePath       = "./homekitdb"
)

var pinPattern = regexp.MustCompile(`^[0-9]{8}$`)

// Accessory is one entry of the accessories file, in the shape a homebridge
// accessory block has.
type Accessory struct {
	// Accessory selects the registered accessory type, e.g. mi-led-desk-lamp.
	Accessory string `yaml:"accessory"`
	Name      string `yaml:"name"`
	IP        string `yaml:"ip"`
	Token     string `yaml:"token"`
}

// Bridge holds the HomeKit bridge settings.
type Bridge struct {
	Name string `yaml:"name"`
	// Pin is the 8 digit setup code
	Pin string `yaml:"pin"`
	// Addr is the HAP listen address, empty picks a random port
	Addr string `yaml:"addr"`
	// StorePath is the pairing database directory
	StorePath string `yaml:"store"`
}

type Config struct {
	// Debug is a flag to enable debug logging
	Debug bool `yaml:"-"`
	// AccessoriesPath is the YAML file with bridge and accessory settings
	AccessoriesPath string `yaml:"-"`
	// Args are the positional arguments left after flag parsing
	Args []string `yaml:"-"`

	Bridge      Bridge      `yaml:"bridge"`
	Accessories []Accessory `yaml:"accessories"`
}

// Load reads .env, the environment and the command line flags. The
// accessories file is read separately by LoadFile.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("deskbridge", flag.ContinueOnError)
	debugFlag := fs.Bool("debug", false, "enable debug logging")
	pathFlag := fs.String("config", envOr("DESKBRIDGE_ACCESSORIES", defaultAccessoriesPath), "accessories file")
	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrapf(err, "parse flags")
	}

	return &Config{
		Debug:           *debugFlag || os.Getenv("DEBUG") == "true",
		AccessoriesPath: *pathFlag,
		Args:            fs.Args(),
	}, nil
}

// LoadFile reads the accessories file, then applies environment overrides
// and defaults to the bridge settings.
func (c *Config) LoadFile() error {
	data, err := os.ReadFile(c.AccessoriesPath)
	if err != nil {
		return errors.Wrapf(err, "read accessories file")
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parse accessories file")
	}

	c.applyEnvironmentOverrides()
	c.setDefaults()

	return c.Validate()
}

func (c *Config) applyEnvironmentOverrides() {
	if pin := os.Getenv("DESKBRIDGE_PIN"); pin != "" {
		c.Bridge.Pin = pin
	}
	if store := os.Getenv("DESKBRIDGE_STORE"); store != "" {
		c.Bridge.StorePath = store
	}
	if addr := os.Getenv("DESKBRIDGE_ADDR"); addr != "" {
		c.Bridge.Addr = addr
	}
}

func (c *Config) setDefaults() {
	if c.Bridge.Name == "" {
		c.Bridge.Name = defaultBridgeName
	}
	if c.Bridge.Pin == "" {
		c.Bridge.Pin = defaultPin
	}
	if c.Bridge.StorePath == "" {
		c.Bridge.StorePath = defaultStorePath
	}
}

// Validate checks the bridge settings. Accessory entries are not validated
// here, a broken entry only disables that accessory.
func (c *Config) Validate() error {
	if !pinPattern.MatchString(c.Bridge.Pin) {
		return errors.Errorf("bridge.pin must be 8 digits, got %q", c.Bridge.Pin)
	}

	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
