package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	SensorReal       = "real"
	SensorSimulation = "simulation"

	// ShellStdio serves the shell on the process's stdin/stdout instead of a
	// serial device.
	ShellStdio = "stdio"

	envPrefix = "ADCSAMPLER_"

	// maxSimMV is the simulated converter's reference voltage.
	maxSimMV = 3300
)

type MQTTConfig struct {
	Server            string `json:"server" yaml:"server" validate:"required"`
	Username          string `json:"username" yaml:"username"`
	Password          string `json:"password" yaml:"password"`
	ClientID          string `json:"client_id" yaml:"client_id"`
	StateTopic        string `json:"state_topic" yaml:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic" yaml:"discovery_topic"`
	DiscoveryName     string `json:"discovery_name" yaml:"discovery_name"`
	DiscoveryUniqueID string `json:"discovery_unique_id" yaml:"discovery_unique_id"`
	// CommandTopic, when set, is subscribed per channel (it must contain %d)
	// and accepts millivolt values for the simulated sensor.
	CommandTopic string `json:"command_topic" yaml:"command_topic"`
}

type OutputConfig struct {
	Type       string      `json:"type" yaml:"type" validate:"oneof=console mqtt"`
	IntervalMs int         `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty" validate:"gte=0"`
	MQTT       *MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt,omitempty" validate:"required_if=Type mqtt"`
}

type SimConfig struct {
	InitialMV int32 `json:"initial_mv" yaml:"initial_mv" validate:"gte=0,lte=3300"`
	JitterMV  int32 `json:"jitter_mv" yaml:"jitter_mv" validate:"gte=0,lte=3300"`
}

type ShellConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Device   string `json:"device" yaml:"device" validate:"required_if=Enabled true"`
	BaudRate int    `json:"baud_rate" yaml:"baud_rate" validate:"gte=0"`
}

type HTTPConfig struct {
	Listen string `json:"listen" yaml:"listen" validate:"omitempty,hostname_port"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"omitempty,oneof=text json"`
}

type Config struct {
	I2CBus         string         `json:"i2c_bus" yaml:"i2c_bus"`
	I2CAddress     int            `json:"i2c_address" yaml:"i2c_address" validate:"gte=0,lte=127"`
	SampleRate     int            `json:"sample_rate" yaml:"sample_rate" validate:"oneof=8 16 32 64 128 250 475 860"`
	SamplePeriodMs int            `json:"sample_period_ms" yaml:"sample_period_ms" validate:"gt=0"`
	SensorType     string         `json:"sensor_type" yaml:"sensor_type" validate:"oneof=real simulation"`
	Sim            SimConfig      `json:"sim" yaml:"sim"`
	Outputs        []OutputConfig `json:"outputs" yaml:"outputs" validate:"dive"`
	IntervalMs     int            `json:"interval_ms" yaml:"interval_ms" validate:"gt=0"`
	Shell          ShellConfig    `json:"shell" yaml:"shell"`
	HTTP           HTTPConfig     `json:"http" yaml:"http"`
	Log            LogConfig      `json:"log" yaml:"log"`
}

func DefaultConfig() Config {
	return Config{
		I2CBus:         "2",
		I2CAddress:     0x48,
		SampleRate:     128,
		SamplePeriodMs: 100,
		SensorType:     SensorSimulation,
		Sim:            SimConfig{InitialMV: 1650},
		Outputs:        []OutputConfig{{Type: "console", IntervalMs: 1000}},
		IntervalMs:     1000,
		Shell:          ShellConfig{Enabled: true, Device: ShellStdio, BaudRate: 115200},
		Log:            LogConfig{Level: "info", Format: "text"},
	}
}

// SamplePeriod returns the fixed sampling period.
func (c Config) SamplePeriod() time.Duration {
	return time.Duration(c.SamplePeriodMs) * time.Millisecond
}

// LoadFromFlags loads configuration from the process command line.
func LoadFromFlags() (Config, error) {
	return LoadFromArgs(os.Args[1:])
}

// LoadFromArgs loads configuration from a JSON or YAML file (optional),
// environment and flags. Flags override the environment, which overrides
// the file.
func LoadFromArgs(args []string) (Config, error) {
	fs := flag.NewFlagSet("adc-sampler", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus (e.g., '2' -> /dev/i2c-2)")
	flagI2CAddStr := fs.String("i2c-address", "", "I2C address (decimal or 0x hex)")
	flagSampleRate := fs.Int("sample-rate", -1, "ADS1115 data rate (SPS)")
	flagPeriod := fs.Int("sample-period-ms", -1, "Sampling period in ms")
	flagSensorType := fs.String("sensor-type", "", "sensor type: real|simulation")
	flagSimInitial := fs.Int("sim-initial-mv", -1, "Simulated channel value after init, in mV")
	flagSimJitter := fs.Int("sim-jitter-mv", -1, "Simulated noise amplitude in mV")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,mqtt)")
	flagOutputIntervals := fs.String("output-intervals", "", "Comma-separated output intervals e.g. console=1000,mqtt=5000")
	flagInterval := fs.Int("interval-ms", -1, "Default publish interval in ms")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT state topic (may contain %d for the channel)")
	flagCommandTopic := fs.String("mqtt-command-topic", "", "MQTT topic accepting injected mV (must contain %d)")
	flagShell := fs.String("shell", "", "Diagnostic shell: off, stdio or a serial device path")
	flagShellBaud := fs.Int("shell-baud", -1, "Serial baud rate for the shell")
	flagHTTP := fs.String("http-listen", "", "HTTP diagnostic listen address (host:port)")
	flagLogLevel := fs.String("log-level", "", "Log level: debug|info|warn|error")
	flagLogFormat := fs.String("log-format", "", "Log format: text|json")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()

	if *cfgPath != "" {
		if err := loadFile(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
	}

	// parse output intervals mapping
	outIntervals := map[string]int{}
	if *flagOutputIntervals != "" {
		m, err := parseKeyIntMap(*flagOutputIntervals)
		if err != nil {
			return cfg, fmt.Errorf("output-intervals: %w", err)
		}
		outIntervals = m
	}

	if *flagI2CBus != "" {
		cfg.I2CBus = *flagI2CBus
	}
	if *flagI2CAddStr != "" {
		v, err := parseIntOrHex(*flagI2CAddStr)
		if err != nil {
			return cfg, fmt.Errorf("i2c-address: %w", err)
		}
		cfg.I2CAddress = v
	}
	if *flagSampleRate != -1 {
		cfg.SampleRate = *flagSampleRate
	}
	if *flagPeriod != -1 {
		cfg.SamplePeriodMs = *flagPeriod
	}
	if *flagSensorType != "" {
		cfg.SensorType = *flagSensorType
	}
	if *flagSimInitial != -1 {
		v, err := simMillivolts(*flagSimInitial)
		if err != nil {
			return cfg, fmt.Errorf("sim-initial-mv: %w", err)
		}
		cfg.Sim.InitialMV = v
	}
	if *flagSimJitter != -1 {
		v, err := simMillivolts(*flagSimJitter)
		if err != nil {
			return cfg, fmt.Errorf("sim-jitter-mv: %w", err)
		}
		cfg.Sim.JitterMV = v
	}
	if *flagInterval != -1 {
		cfg.IntervalMs = *flagInterval
	}
	if *flagOutputs != "" {
		// convert simple CSV of types into structured OutputConfig entries
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: p, IntervalMs: cfg.IntervalMs})
		}
		cfg.Outputs = outs
	}
	for i := range cfg.Outputs {
		if v, ok := outIntervals[cfg.Outputs[i].Type]; ok {
			cfg.Outputs[i].IntervalMs = v
		}
	}

	applyEnvOverrides(&cfg)

	mqttFlags := MQTTConfig{
		Server:       *flagMQTTServer,
		Username:     *flagMQTTUser,
		Password:     *flagMQTTPass,
		ClientID:     *flagClientID,
		StateTopic:   *flagTopic,
		CommandTopic: *flagCommandTopic,
	}
	if mqttFlags != (MQTTConfig{}) {
		applyMQTT(&cfg, mqttFlags)
	}

	if *flagShell != "" {
		if *flagShell == "off" {
			cfg.Shell.Enabled = false
		} else {
			cfg.Shell.Enabled = true
			cfg.Shell.Device = *flagShell
		}
	}
	if *flagShellBaud != -1 {
		cfg.Shell.BaudRate = *flagShellBaud
	}
	if *flagHTTP != "" {
		cfg.HTTP.Listen = *flagHTTP
	}
	if *flagLogLevel != "" {
		cfg.Log.Level = *flagLogLevel
	}
	if *flagLogFormat != "" {
		cfg.Log.Format = *flagLogFormat
	}

	// ensure outputs have interval default
	for i := range cfg.Outputs {
		if cfg.Outputs[i].IntervalMs == 0 {
			cfg.Outputs[i].IntervalMs = cfg.IntervalMs
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	return nil
}

// applyMQTT copies the non-empty fields of m into every mqtt output,
// creating one if none exists.
func applyMQTT(cfg *Config, m MQTTConfig) {
	merge := func(dst *MQTTConfig) {
		if m.Server != "" {
			dst.Server = m.Server
		}
		if m.Username != "" {
			dst.Username = m.Username
		}
		if m.Password != "" {
			dst.Password = m.Password
		}
		if m.ClientID != "" {
			dst.ClientID = m.ClientID
		}
		if m.StateTopic != "" {
			dst.StateTopic = m.StateTopic
		}
		if m.CommandTopic != "" {
			dst.CommandTopic = m.CommandTopic
		}
	}
	applied := false
	for i := range cfg.Outputs {
		if strings.ToLower(cfg.Outputs[i].Type) != "mqtt" {
			continue
		}
		if cfg.Outputs[i].MQTT == nil {
			cfg.Outputs[i].MQTT = &MQTTConfig{}
		}
		merge(cfg.Outputs[i].MQTT)
		applied = true
	}
	if !applied {
		out := OutputConfig{Type: "mqtt", IntervalMs: cfg.IntervalMs, MQTT: &MQTTConfig{}}
		merge(out.MQTT)
		cfg.Outputs = append(cfg.Outputs, out)
	}
}

// applyEnvOverrides reads MQTT credentials from ADCSAMPLER_* variables so
// they can stay out of config files. Only existing mqtt outputs are touched.
func applyEnvOverrides(cfg *Config) {
	env := MQTTConfig{
		Server:   os.Getenv(envPrefix + "MQTT_SERVER"),
		Username: os.Getenv(envPrefix + "MQTT_USER"),
		Password: os.Getenv(envPrefix + "MQTT_PASS"),
	}
	if env == (MQTTConfig{}) {
		return
	}
	for i := range cfg.Outputs {
		if cfg.Outputs[i].Type == "mqtt" {
			if cfg.Outputs[i].MQTT == nil {
				cfg.Outputs[i].MQTT = &MQTTConfig{}
			}
			if env.Server != "" {
				cfg.Outputs[i].MQTT.Server = env.Server
			}
			if env.Username != "" {
				cfg.Outputs[i].MQTT.Username = env.Username
			}
			if env.Password != "" {
				cfg.Outputs[i].MQTT.Password = env.Password
			}
		}
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and returns every violation at once.
func (c *Config) Validate() error {
	var msgs []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, e := range verrs {
			msgs = append(msgs, formatFieldError(e))
		}
	}
	for i, o := range c.Outputs {
		if o.MQTT != nil && o.MQTT.CommandTopic != "" && !strings.Contains(o.MQTT.CommandTopic, "%d") {
			msgs = append(msgs, fmt.Sprintf("outputs[%d].mqtt.command_topic: must contain %%d", i))
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func formatFieldError(e validator.FieldError) string {
	// drop the root struct name
	field := e.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch e.Tag() {
	case "required", "required_if":
		return field + ": is required"
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s]", field, e.Param())
	case "gt", "gte", "lte":
		return fmt.Sprintf("%s: must be %s %s", field, e.Tag(), e.Param())
	case "hostname_port":
		return field + ": must be host:port"
	}
	return fmt.Sprintf("%s: failed %s", field, e.Tag())
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

// simMillivolts range-checks a flag value before narrowing it to int32.
func simMillivolts(v int) (int32, error) {
	if v < 0 || v > maxSimMV {
		return 0, fmt.Errorf("%d out of range 0..%d", v, maxSimMV)
	}
	return int32(v), nil
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseKeyIntMap parses "a=1,b=2".
func parseKeyIntMap(s string) (map[string]int, error) {
	out := map[string]int{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		v, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("value for %q: %w", kv[0], err)
		}
		out[strings.TrimSpace(kv[0])] = v
	}
	return out, nil
}
