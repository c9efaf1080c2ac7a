package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/thermohost"
	"github.com/mklimuk/thermohost/environment"
)

const (
	TransportPeriph  = "periph"
	TransportGobot   = "gobot"
	TransportMCP2221 = "mcp2221"
	TransportSim     = "sim"
)

const SensorTypeSHTC3 = "SHTC3"

const (
	DefaultListen      = ":9120"
	DefaultMQTTTopic   = "thermohost/readings"
	DefaultMQTTClient  = "thermohost"
	DefaultSimTemp     = 22.5
	DefaultSimHumidity = 45.0
)

// Config describes a single host: one bus, the sensors attached to it and
// where readings go.
type Config struct {
	Transport Transport `yaml:"transport"`
	Sensors   []Sensor  `yaml:"sensors"`
	HTTP      HTTP      `yaml:"http"`
	MQTT      MQTT      `yaml:"mqtt"`
	Kafka     Kafka     `yaml:"kafka"`
}

type Transport struct {
	Kind string `yaml:"kind"`
	// Device is the periph bus name, empty opens the first bus.
	Device string `yaml:"device"`
	// Bus is the gobot bus number.
	Bus int `yaml:"bus"`
	// AdapterID selects one of several MCP2221 adapters.
	AdapterID      *int    `yaml:"adapter_id"`
	SimTemperature float64 `yaml:"sim_temperature"`
	SimHumidity    float64 `yaml:"sim_humidity"`
}

type Sensor struct {
	Name     string  `yaml:"name"`
	Type     string  `yaml:"type"`
	Address  int     `yaml:"bus_address"`
	SpeedHz  int     `yaml:"bus_speed_hz"`
	MinTemp  float64 `yaml:"min_temp"`
	MaxTemp  float64 `yaml:"max_temp"`
	CheckCRC bool    `yaml:"check_crc"`
	Identify bool    `yaml:"identify"`
}

type HTTP struct {
	Listen string `yaml:"listen"`
}

type MQTT struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

func (m MQTT) Enabled() bool {
	return m.Broker != ""
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func (k Kafka) Enabled() bool {
	return len(k.Brokers) > 0
}

func Default() Config {
	return Config{
		Transport: Transport{
			Kind:           TransportPeriph,
			SimTemperature: DefaultSimTemp,
			SimHumidity:    DefaultSimHumidity,
		},
		HTTP: HTTP{Listen: DefaultListen},
		MQTT: MQTT{Topic: DefaultMQTTTopic, ClientID: DefaultMQTTClient},
	}
}

var sensorKeys = map[string]struct{}{
	"name": {}, "type": {}, "bus_address": {}, "bus_speed_hz": {},
	"min_temp": {}, "max_temp": {}, "check_crc": {}, "identify": {},
}

// UnmarshalYAML applies sensor defaults and enforces the required bounds.
// Node decoding does not inherit the decoder's KnownFields setting, so keys
// are checked here.
func (s *Sensor) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			key := value.Content[i]
			if _, ok := sensorKeys[key.Value]; !ok {
				return &thermohost.ConfigurationError{Field: key.Value, Reason: fmt.Sprintf("unknown sensor key (line %d)", key.Line)}
			}
		}
	}
	type plain struct {
		Name     string   `yaml:"name"`
		Type     string   `yaml:"type"`
		Address  *int     `yaml:"bus_address"`
		SpeedHz  *int     `yaml:"bus_speed_hz"`
		MinTemp  *float64 `yaml:"min_temp"`
		MaxTemp  *float64 `yaml:"max_temp"`
		CheckCRC *bool    `yaml:"check_crc"`
		Identify bool     `yaml:"identify"`
	}
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	if p.MinTemp == nil {
		return &thermohost.ConfigurationError{Field: "min_temp", Reason: fmt.Sprintf("is required (sensor %q, line %d)", p.Name, value.Line)}
	}
	if p.MaxTemp == nil {
		return &thermohost.ConfigurationError{Field: "max_temp", Reason: fmt.Sprintf("is required (sensor %q, line %d)", p.Name, value.Line)}
	}
	*s = Sensor{
		Name:     p.Name,
		Type:     SensorTypeSHTC3,
		Address:  environment.SHTC3DefaultAddress,
		SpeedHz:  environment.SHTC3DefaultSpeed,
		MinTemp:  *p.MinTemp,
		MaxTemp:  *p.MaxTemp,
		CheckCRC: true,
		Identify: p.Identify,
	}
	if p.Type != "" {
		s.Type = p.Type
	}
	if p.Address != nil {
		s.Address = *p.Address
	}
	if p.SpeedHz != nil {
		s.SpeedHz = *p.SpeedHz
	}
	if p.CheckCRC != nil {
		s.CheckCRC = *p.CheckCRC
	}
	return nil
}

// SHTC3 maps the sensor section to the driver configuration.
func (s Sensor) SHTC3() (environment.SHTC3Config, error) {
	if !strings.EqualFold(s.Type, SensorTypeSHTC3) {
		return environment.SHTC3Config{}, &thermohost.ConfigurationError{Field: "type", Reason: fmt.Sprintf("unsupported sensor type %q", s.Type)}
	}
	if s.Address < 0 || s.Address > 0xFF {
		return environment.SHTC3Config{}, &thermohost.ConfigurationError{Field: "bus_address", Reason: fmt.Sprintf("%#x is not a valid 7-bit address", s.Address)}
	}
	if s.SpeedHz < 0 {
		return environment.SHTC3Config{}, &thermohost.ConfigurationError{Field: "bus_speed_hz", Reason: fmt.Sprintf("%d out of range", s.SpeedHz)}
	}
	cfg := environment.SHTC3Config{
		Name:     s.Name,
		Address:  byte(s.Address),
		SpeedHz:  uint32(s.SpeedHz),
		MinTemp:  s.MinTemp,
		MaxTemp:  s.MaxTemp,
		CheckCRC: s.CheckCRC,
		Identify: s.Identify,
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Transport.Kind {
	case TransportPeriph, TransportGobot, TransportMCP2221, TransportSim:
	default:
		return &thermohost.ConfigurationError{Field: "transport.kind", Reason: fmt.Sprintf("unknown transport %q", c.Transport.Kind)}
	}
	if len(c.Sensors) == 0 {
		return &thermohost.ConfigurationError{Field: "sensors", Reason: "at least one sensor is required"}
	}
	// all sensors share the transport, so they share its clock
	speed := c.Sensors[0].SpeedHz
	names := make(map[string]struct{}, len(c.Sensors))
	addrs := make(map[int]string, len(c.Sensors))
	for _, s := range c.Sensors {
		if _, err := s.SHTC3(); err != nil {
			return err
		}
		if _, ok := names[s.Name]; ok {
			return &thermohost.ConfigurationError{Field: "name", Reason: fmt.Sprintf("duplicate sensor %q", s.Name)}
		}
		names[s.Name] = struct{}{}
		if other, ok := addrs[s.Address]; ok {
			return &thermohost.ConfigurationError{Field: "bus_address", Reason: fmt.Sprintf("%#x used by %q and %q", s.Address, other, s.Name)}
		}
		addrs[s.Address] = s.Name
		if s.SpeedHz != speed {
			return &thermohost.ConfigurationError{Field: "bus_speed_hz", Reason: fmt.Sprintf("%q asks for %dHz, %q for %dHz on the same bus", c.Sensors[0].Name, speed, s.Name, s.SpeedHz)}
		}
	}
	if c.MQTT.Enabled() && c.MQTT.Topic == "" {
		return &thermohost.ConfigurationError{Field: "mqtt.topic", Reason: "is required when a broker is set"}
	}
	if c.MQTT.QoS > 2 {
		return &thermohost.ConfigurationError{Field: "mqtt.qos", Reason: fmt.Sprintf("%d is not a valid QoS", c.MQTT.QoS)}
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return &thermohost.ConfigurationError{Field: "kafka.topic", Reason: "is required when brokers are set"}
	}
	return nil
}

// Parse decodes and validates a YAML document on top of Default().
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var cerr *thermohost.ConfigurationError
		if errors.As(err, &cerr) {
			return Config{}, cerr
		}
		return Config{}, fmt.Errorf("could not decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not read config file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}
