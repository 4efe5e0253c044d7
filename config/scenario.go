package config

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/bridgeharness/bridge"
	"github.com/c360/bridgeharness/errors"
	"github.com/c360/bridgeharness/readiness"
)

//go:embed scenario.schema.json
var scenarioSchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func scenarioSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(scenarioSchemaJSON))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile scenario schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// Duration is a scenario-file duration: a Go duration string or integer
// milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Scenario is a topology described in a file: the topics to pre-create, the
// mock targets to host and the bridge environment.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Topics      []string       `yaml:"topics"`
	Targets     TargetsSpec    `yaml:"targets"`
	Readiness   *ReadinessSpec `yaml:"readiness"`
	Bridge      BridgeSpec     `yaml:"bridge"`
}

// TargetsSpec lists mock targets beyond the primary one.
type TargetsSpec struct {
	Extra     []string `yaml:"extra"`
	Transient bool     `yaml:"transient"`
}

// ReadinessSpec selects the bridge readiness policy.
type ReadinessSpec struct {
	Kind        string   `yaml:"kind"`
	Pattern     string   `yaml:"pattern"`
	Occurrences int      `yaml:"occurrences"`
	Path        string   `yaml:"path"`
	Port        string   `yaml:"port"`
	Interval    Duration `yaml:"interval"`
	Timeout     Duration `yaml:"timeout"`
	Delay       Duration `yaml:"delay"`
}

// RetryPolicySpec is the file form of bridge.RetryPolicy.
type RetryPolicySpec struct {
	Backoff     string   `yaml:"backoff"`
	MaxDuration Duration `yaml:"max_duration"`
}

// ConnectionRetryPolicySpec is the file form of bridge.ConnectionRetryPolicy.
type ConnectionRetryPolicySpec struct {
	Backoff     string   `yaml:"backoff"`
	MaxDuration Duration `yaml:"max_duration"`
	MaxRetries  int      `yaml:"max_retries"`
}

// BridgeSpec is the file form of bridge.Config.
type BridgeSpec struct {
	BrokerAddress  string `yaml:"broker_address"`
	MonitoringPort int    `yaml:"monitoring_port"`

	GroupID       string              `yaml:"group_id"`
	TargetBaseURL string              `yaml:"target_base_url"`
	Routes        []bridge.TopicRoute `yaml:"routes"`

	RetryTopic      string `yaml:"retry_topic"`
	DeadLetterTopic string `yaml:"dead_letter_topic"`

	RetryProcessWhenStatusCodeMatch             string `yaml:"retry_process_when_status_code_match"`
	ProduceToRetryTopicWhenStatusCodeMatch      string `yaml:"produce_to_retry_topic_when_status_code_match"`
	ProduceToDeadLetterTopicWhenStatusCodeMatch string `yaml:"produce_to_dead_letter_topic_when_status_code_match"`

	RetryPolicy                  *RetryPolicySpec           `yaml:"retry_policy"`
	ConnectionFailureRetryPolicy *ConnectionRetryPolicySpec `yaml:"connection_failure_retry_policy"`

	BodyHeadersPaths       []string `yaml:"body_headers_paths"`
	TargetProcessType      string   `yaml:"target_process_type"`
	BatchParallelismFactor int      `yaml:"batch_parallelism_factor"`
	CommitInterval         Duration `yaml:"commit_interval"`

	RecordPickField    string `yaml:"record_pick_field"`
	RecordFilterField  string `yaml:"record_filter_field"`
	RecordFilterValue  string `yaml:"record_filter_value"`
	RecordProjectField string `yaml:"record_project_field"`

	ProcessingDelay Duration `yaml:"processing_delay"`
	PollTimeout     Duration `yaml:"poll_timeout"`
	MaxPollRecords  int      `yaml:"max_poll_records"`
	SessionTimeout  Duration `yaml:"session_timeout"`

	UsePrometheus             bool      `yaml:"use_prometheus"`
	PrometheusBuckets         []float64 `yaml:"prometheus_buckets"`
	LogRecord                 bool      `yaml:"log_record"`
	TargetIsAliveHTTPEndpoint string    `yaml:"target_is_alive_http_endpoint"`

	Raw map[string]string `yaml:"raw"`
}

// LoadScenario reads, schema-validates and decodes a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Scenario", "Load", "read "+path)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// ParseScenario validates data against the scenario schema and decodes it.
// YAML and JSON are both accepted.
func ParseScenario(data []byte) (*Scenario, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "Scenario", "Parse", "parse YAML")
	}
	if doc == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: empty document", errors.ErrInvalidConfig),
			"Scenario", "Parse", "parse YAML")
	}

	s, err := scenarioSchema()
	if err != nil {
		return nil, errors.WrapFatal(err, "Scenario", "Parse", "load schema")
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, errors.WrapInvalid(err, "Scenario", "Parse", "validate against schema")
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
			"Scenario", "Parse", "validate against schema")
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, errors.WrapInvalid(err, "Scenario", "Parse", "decode scenario")
	}
	if _, err := sc.BridgeConfig(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// BridgeConfig converts the bridge section to a validated bridge.Config.
func (s *Scenario) BridgeConfig() (bridge.Config, error) {
	b := s.Bridge
	cfg := bridge.Config{
		BrokerAddress:  b.BrokerAddress,
		MonitoringPort: b.MonitoringPort,
		GroupID:        b.GroupID,
		TargetBaseURL:  b.TargetBaseURL,
		Routes:         bridge.Routes(b.Routes),

		RetryTopic:      b.RetryTopic,
		DeadLetterTopic: b.DeadLetterTopic,

		RetryProcessWhenStatusCodeMatch:             b.RetryProcessWhenStatusCodeMatch,
		ProduceToRetryTopicWhenStatusCodeMatch:      b.ProduceToRetryTopicWhenStatusCodeMatch,
		ProduceToDeadLetterTopicWhenStatusCodeMatch: b.ProduceToDeadLetterTopicWhenStatusCodeMatch,

		BodyHeadersPaths:       b.BodyHeadersPaths,
		TargetProcessType:      bridge.ProcessType(b.TargetProcessType),
		BatchParallelismFactor: b.BatchParallelismFactor,
		CommitInterval:         time.Duration(b.CommitInterval),

		RecordPickField:    b.RecordPickField,
		RecordFilterField:  b.RecordFilterField,
		RecordFilterValue:  b.RecordFilterValue,
		RecordProjectField: b.RecordProjectField,

		ProcessingDelay: time.Duration(b.ProcessingDelay),
		PollTimeout:     time.Duration(b.PollTimeout),
		MaxPollRecords:  b.MaxPollRecords,
		SessionTimeout:  time.Duration(b.SessionTimeout),

		UsePrometheus:             b.UsePrometheus,
		PrometheusBuckets:         b.PrometheusBuckets,
		LogRecord:                 b.LogRecord,
		TargetIsAliveHTTPEndpoint: b.TargetIsAliveHTTPEndpoint,

		Raw: b.Raw,
	}

	if p := b.RetryPolicy; p != nil {
		if p.Backoff != "" {
			backoff, err := bridge.ParseBackoff(p.Backoff)
			if err != nil {
				return bridge.Config{}, err
			}
			cfg.RetryPolicy.Backoff = backoff
		}
		cfg.RetryPolicy.MaxDuration = time.Duration(p.MaxDuration)
	}
	if p := b.ConnectionFailureRetryPolicy; p != nil {
		if p.Backoff != "" {
			backoff, err := bridge.ParseBackoff(p.Backoff)
			if err != nil {
				return bridge.Config{}, err
			}
			cfg.ConnectionFailureRetryPolicy.Backoff = backoff
		}
		cfg.ConnectionFailureRetryPolicy.MaxDuration = time.Duration(p.MaxDuration)
		cfg.ConnectionFailureRetryPolicy.MaxRetries = p.MaxRetries
	}

	if err := cfg.Validate(); err != nil {
		return bridge.Config{}, err
	}
	return cfg, nil
}

// AllTopics returns the declared topics followed by any literal topic the
// bridge config references, without duplicates.
func (s *Scenario) AllTopics() []string {
	seen := make(map[string]struct{}, len(s.Topics))
	topics := make([]string, 0, len(s.Topics))
	for _, t := range s.Topics {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			topics = append(topics, t)
		}
	}
	cfg, err := s.BridgeConfig()
	if err != nil {
		return topics
	}
	for _, t := range cfg.Topics() {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			topics = append(topics, t)
		}
	}
	return topics
}

// ReadinessPolicy returns the bridge readiness policy, or nil for the
// bridge default.
func (s *Scenario) ReadinessPolicy() readiness.Policy {
	r := s.Readiness
	if r == nil {
		return nil
	}
	switch r.Kind {
	case "log":
		return readiness.LogPattern{Pattern: r.Pattern, Occurrences: r.Occurrences, Timeout: time.Duration(r.Timeout)}
	case "http":
		return readiness.HTTPProbe{Path: r.Path, Port: r.Port,
			PollInterval: time.Duration(r.Interval), Timeout: time.Duration(r.Timeout)}
	case "tcp":
		return readiness.TCPProbe{Port: r.Port, Timeout: time.Duration(r.Timeout)}
	case "delay":
		return readiness.FixedDelay{Delay: time.Duration(r.Delay)}
	case "none":
		return readiness.None{}
	default:
		return nil
	}
}
