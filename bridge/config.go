package bridge

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c360/bridgeharness/errors"
)

// Environment variable names understood by the bridge.
const (
	EnvBrokerAddress               = "KAFKA_BROKER"
	EnvMonitoringPort              = "MONITORING_SERVER_PORT"
	EnvGroupID                     = "GROUP_ID"
	EnvTargetBaseURL               = "TARGET_BASE_URL"
	EnvTopicsRoutes                = "TOPICS_ROUTES"
	EnvRetryTopic                  = "RETRY_TOPIC"
	EnvDeadLetterTopic             = "DEAD_LETTER_TOPIC"
	EnvRetryProcessWhenStatusMatch = "RETRY_PROCESS_WHEN_STATUS_CODE_MATCH"
	EnvRetryTopicWhenStatusMatch   = "PRODUCE_TO_RETRY_TOPIC_WHEN_STATUS_CODE_MATCH"
	EnvDeadLetterWhenStatusMatch   = "PRODUCE_TO_DEAD_LETTER_TOPIC_WHEN_STATUS_CODE_MATCH"
	EnvRetryBackoff                = "RETRY_POLICY_EXPONENTIAL_BACKOFF"
	EnvRetryMaxDuration            = "RETRY_POLICY_MAX_DURATION"
	EnvConnectionRetryBackoff      = "CONNECTION_FAILURE_RETRY_POLICY_EXPONENTIAL_BACKOFF"
	EnvConnectionRetryMaxDuration  = "CONNECTION_FAILURE_RETRY_POLICY_MAX_DURATION_MS"
	EnvConnectionRetryMaxRetries   = "CONNECTION_FAILURE_RETRY_POLICY_MAX_RETRIES"
	EnvBodyHeadersPaths            = "BODY_HEADERS_PATHS"
	EnvTargetProcessType           = "TARGET_PROCESS_TYPE"
	EnvBatchParallelismFactor      = "BATCH_PARALLELISM_FACTOR"
	EnvCommitInterval              = "COMMIT_INTERVAL_MS"
	EnvRecordPickField             = "RECORD_PICK_FIELD"
	EnvRecordFilterField           = "RECORD_FILTER_FIELD"
	EnvRecordFilterValue           = "RECORD_FILTER_VALUE"
	EnvRecordProjectField          = "RECORD_PROJECT_FIELD"
	EnvProcessingDelay             = "PROCESSING_DELAY"
	EnvPollTimeout                 = "POLL_TIMEOUT"
	EnvMaxPollRecords              = "MAX_POLL_RECORDS"
	EnvSessionTimeout              = "SESSION_TIMEOUT"
	EnvUsePrometheus               = "USE_PROMETHEUS"
	EnvPrometheusBuckets           = "PROMETHEUS_BUCKETS"
	EnvLogRecord                   = "LOG_RECORD"
	EnvTargetIsAliveHTTPEndpoint   = "TARGET_IS_ALIVE_HTTP_ENDPOINT"
)

// Defaults merged beneath every Config.
const (
	DefaultBrokerAddress  = "kafka:9092"
	DefaultMonitoringPort = 3000
)

// HeaderRecordTimestamp is set by the bridge on every delivered call and
// differs between runs. Exclude it before comparing calls.
const HeaderRecordTimestamp = "x-record-timestamp"

// ProcessType selects how the bridge delivers records to its target.
type ProcessType string

const (
	ProcessStream ProcessType = "stream"
	ProcessBatch  ProcessType = "batch"
)

// EnvVar is a single rendered environment variable.
type EnvVar struct {
	Name  string
	Value string
}

// TopicRoute maps topics matching TopicPattern to TargetPath on the target.
// Patterns are full-match regular expressions; a literal topic name is a
// valid pattern.
type TopicRoute struct {
	TopicPattern string `json:"topic" yaml:"topic"`
	TargetPath   string `json:"path" yaml:"path"`
}

// Route is shorthand for TopicRoute{pattern, path}.
func Route(pattern, path string) TopicRoute {
	return TopicRoute{TopicPattern: pattern, TargetPath: path}
}

func (r TopicRoute) String() string {
	return r.TopicPattern + ":" + r.TargetPath
}

func (r TopicRoute) compile() (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + r.TopicPattern + ")$")
}

// Routes is an ordered route list. Order matters: the first matching route wins.
type Routes []TopicRoute

// String renders the TOPICS_ROUTES value.
func (rs Routes) String() string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

// Match returns the target path for topic.
func (rs Routes) Match(topic string) (string, bool) {
	for _, r := range rs {
		re, err := r.compile()
		if err != nil {
			continue
		}
		if re.MatchString(topic) {
			return r.TargetPath, true
		}
	}
	return "", false
}

// ParseRoutes parses a TOPICS_ROUTES value. The path is everything after the
// last colon so patterns may not contain one.
func ParseRoutes(s string) (Routes, error) {
	var routes Routes
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i := strings.LastIndex(part, ":")
		if i <= 0 || i == len(part)-1 {
			return nil, errors.WrapInvalid(fmt.Errorf("malformed route %q", part),
				"Routes", "Parse", "split pattern and path")
		}
		routes = append(routes, Route(part[:i], part[i+1:]))
	}
	return routes, nil
}

// Backoff is an exponential backoff triple. Initial and Max render in
// milliseconds.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// IsZero reports whether the backoff is unset.
func (b Backoff) IsZero() bool {
	return b == Backoff{}
}

// String renders "initial,max,factor".
func (b Backoff) String() string {
	return fmt.Sprintf("%d,%d,%s", b.Initial.Milliseconds(), b.Max.Milliseconds(),
		strconv.FormatFloat(b.Factor, 'f', -1, 64))
}

func (b Backoff) validate(name string) error {
	if b.IsZero() {
		return nil
	}
	switch {
	case b.Initial <= 0:
		return fmt.Errorf("%s: initial delay must be positive", name)
	case b.Max < b.Initial:
		return fmt.Errorf("%s: max delay %s is below initial %s", name, b.Max, b.Initial)
	case b.Factor < 1:
		return fmt.Errorf("%s: factor %v must be at least 1", name, b.Factor)
	}
	return nil
}

// ParseBackoff parses "initial,max,factor" with delays in milliseconds.
func ParseBackoff(s string) (Backoff, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Backoff{}, errors.WrapInvalid(fmt.Errorf("want 3 values, got %d", len(parts)),
			"Backoff", "Parse", "split "+strconv.Quote(s))
	}
	initial, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return Backoff{}, errors.WrapInvalid(err, "Backoff", "Parse", "parse initial delay")
	}
	maxDelay, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return Backoff{}, errors.WrapInvalid(err, "Backoff", "Parse", "parse max delay")
	}
	factor, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return Backoff{}, errors.WrapInvalid(err, "Backoff", "Parse", "parse factor")
	}
	return Backoff{
		Initial: time.Duration(initial) * time.Millisecond,
		Max:     time.Duration(maxDelay) * time.Millisecond,
		Factor:  factor,
	}, nil
}

// RetryPolicy controls how the bridge retries status-code failures.
type RetryPolicy struct {
	Backoff     Backoff
	MaxDuration time.Duration
}

// ConnectionRetryPolicy controls how the bridge retries connection failures
// against its target. Zero MaxDuration or MaxRetries leaves the bridge
// default in place.
type ConnectionRetryPolicy struct {
	Backoff     Backoff
	MaxDuration time.Duration
	MaxRetries  int
}

// Config is the bridge environment. Zero values are not rendered, so the
// bridge applies its own default for them. Raw carries options with no typed
// field; a Raw key naming a typed option is rejected by Validate.
type Config struct {
	BrokerAddress  string
	MonitoringPort int

	GroupID       string
	TargetBaseURL string
	Routes        Routes

	RetryTopic      string
	DeadLetterTopic string

	RetryProcessWhenStatusCodeMatch             string
	ProduceToRetryTopicWhenStatusCodeMatch      string
	ProduceToDeadLetterTopicWhenStatusCodeMatch string

	RetryPolicy                  RetryPolicy
	ConnectionFailureRetryPolicy ConnectionRetryPolicy

	BodyHeadersPaths       []string
	TargetProcessType      ProcessType
	BatchParallelismFactor int
	CommitInterval         time.Duration

	RecordPickField    string
	RecordFilterField  string
	RecordFilterValue  string
	RecordProjectField string

	ProcessingDelay time.Duration
	PollTimeout     time.Duration
	MaxPollRecords  int
	SessionTimeout  time.Duration

	UsePrometheus             bool
	PrometheusBuckets         []float64
	LogRecord                 bool
	TargetIsAliveHTTPEndpoint string

	Raw map[string]string
}

// typedNames lists every env name backed by a Config field.
var typedNames = map[string]struct{}{
	EnvBrokerAddress: {}, EnvMonitoringPort: {}, EnvGroupID: {}, EnvTargetBaseURL: {},
	EnvTopicsRoutes: {}, EnvRetryTopic: {}, EnvDeadLetterTopic: {},
	EnvRetryProcessWhenStatusMatch: {}, EnvRetryTopicWhenStatusMatch: {}, EnvDeadLetterWhenStatusMatch: {},
	EnvRetryBackoff: {}, EnvRetryMaxDuration: {},
	EnvConnectionRetryBackoff: {}, EnvConnectionRetryMaxDuration: {}, EnvConnectionRetryMaxRetries: {},
	EnvBodyHeadersPaths: {}, EnvTargetProcessType: {}, EnvBatchParallelismFactor: {}, EnvCommitInterval: {},
	EnvRecordPickField: {}, EnvRecordFilterField: {}, EnvRecordFilterValue: {}, EnvRecordProjectField: {},
	EnvProcessingDelay: {}, EnvPollTimeout: {}, EnvMaxPollRecords: {}, EnvSessionTimeout: {},
	EnvUsePrometheus: {}, EnvPrometheusBuckets: {}, EnvLogRecord: {}, EnvTargetIsAliveHTTPEndpoint: {},
}

// IsTypedOption reports whether name is backed by a Config field.
func IsTypedOption(name string) bool {
	_, ok := typedNames[name]
	return ok
}

// Validate checks route and status patterns, backoff triples, the process
// type and Raw collisions.
func (c Config) Validate() error {
	var problems []string

	for _, r := range c.Routes {
		if r.TargetPath == "" {
			problems = append(problems, fmt.Sprintf("route %q has no target path", r.TopicPattern))
		}
		if strings.Contains(r.TopicPattern, ",") {
			problems = append(problems, fmt.Sprintf("route pattern %q contains a comma", r.TopicPattern))
		}
		if _, err := r.compile(); err != nil {
			problems = append(problems, fmt.Sprintf("route pattern %q: %v", r.TopicPattern, err))
		}
	}

	for _, status := range []EnvVar{
		{EnvRetryProcessWhenStatusMatch, c.RetryProcessWhenStatusCodeMatch},
		{EnvRetryTopicWhenStatusMatch, c.ProduceToRetryTopicWhenStatusCodeMatch},
		{EnvDeadLetterWhenStatusMatch, c.ProduceToDeadLetterTopicWhenStatusCodeMatch},
	} {
		if status.Value == "" {
			continue
		}
		if _, err := regexp.Compile(status.Value); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", status.Name, err))
		}
	}

	if err := c.RetryPolicy.Backoff.validate(EnvRetryBackoff); err != nil {
		problems = append(problems, err.Error())
	}
	if err := c.ConnectionFailureRetryPolicy.Backoff.validate(EnvConnectionRetryBackoff); err != nil {
		problems = append(problems, err.Error())
	}

	switch c.TargetProcessType {
	case "", ProcessStream, ProcessBatch:
	default:
		problems = append(problems, fmt.Sprintf("unknown target process type %q", c.TargetProcessType))
	}

	if c.MonitoringPort < 0 || c.MonitoringPort > 65535 {
		problems = append(problems, fmt.Sprintf("monitoring port %d out of range", c.MonitoringPort))
	}
	if c.MaxPollRecords < 0 || c.BatchParallelismFactor < 0 || c.ConnectionFailureRetryPolicy.MaxRetries < 0 {
		problems = append(problems, "counts must not be negative")
	}

	var collisions []string
	for name := range c.Raw {
		if IsTypedOption(name) {
			collisions = append(collisions, name)
		}
	}
	if len(collisions) > 0 {
		sort.Strings(collisions)
		problems = append(problems, "raw options shadow typed options: "+strings.Join(collisions, ", "))
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
			"Config", "Validate", "validate bridge config")
	}
	return nil
}

// EnvVars renders the config merged over the defaults. Typed options come
// first in a fixed order, then Raw entries sorted by name.
func (c Config) EnvVars() []EnvVar {
	var vars []EnvVar
	add := func(name, value string) {
		if value != "" {
			vars = append(vars, EnvVar{Name: name, Value: value})
		}
	}
	ms := func(d time.Duration) string {
		if d == 0 {
			return ""
		}
		return strconv.FormatInt(d.Milliseconds(), 10)
	}
	num := func(n int) string {
		if n == 0 {
			return ""
		}
		return strconv.Itoa(n)
	}
	flag := func(b bool) string {
		if !b {
			return ""
		}
		return "true"
	}

	broker := c.BrokerAddress
	if broker == "" {
		broker = DefaultBrokerAddress
	}
	port := c.MonitoringPort
	if port == 0 {
		port = DefaultMonitoringPort
	}
	add(EnvBrokerAddress, broker)
	add(EnvMonitoringPort, strconv.Itoa(port))

	add(EnvGroupID, c.GroupID)
	add(EnvTargetBaseURL, c.TargetBaseURL)
	add(EnvTopicsRoutes, c.Routes.String())
	add(EnvRetryTopic, c.RetryTopic)
	add(EnvDeadLetterTopic, c.DeadLetterTopic)
	add(EnvRetryProcessWhenStatusMatch, c.RetryProcessWhenStatusCodeMatch)
	add(EnvRetryTopicWhenStatusMatch, c.ProduceToRetryTopicWhenStatusCodeMatch)
	add(EnvDeadLetterWhenStatusMatch, c.ProduceToDeadLetterTopicWhenStatusCodeMatch)

	if !c.RetryPolicy.Backoff.IsZero() {
		add(EnvRetryBackoff, c.RetryPolicy.Backoff.String())
	}
	add(EnvRetryMaxDuration, ms(c.RetryPolicy.MaxDuration))

	if !c.ConnectionFailureRetryPolicy.Backoff.IsZero() {
		add(EnvConnectionRetryBackoff, c.ConnectionFailureRetryPolicy.Backoff.String())
	}
	add(EnvConnectionRetryMaxDuration, ms(c.ConnectionFailureRetryPolicy.MaxDuration))
	add(EnvConnectionRetryMaxRetries, num(c.ConnectionFailureRetryPolicy.MaxRetries))

	add(EnvBodyHeadersPaths, strings.Join(c.BodyHeadersPaths, ","))
	add(EnvTargetProcessType, string(c.TargetProcessType))
	add(EnvBatchParallelismFactor, num(c.BatchParallelismFactor))
	add(EnvCommitInterval, ms(c.CommitInterval))

	add(EnvRecordPickField, c.RecordPickField)
	add(EnvRecordFilterField, c.RecordFilterField)
	add(EnvRecordFilterValue, c.RecordFilterValue)
	add(EnvRecordProjectField, c.RecordProjectField)

	add(EnvProcessingDelay, ms(c.ProcessingDelay))
	add(EnvPollTimeout, ms(c.PollTimeout))
	add(EnvMaxPollRecords, num(c.MaxPollRecords))
	add(EnvSessionTimeout, ms(c.SessionTimeout))

	add(EnvUsePrometheus, flag(c.UsePrometheus))
	if len(c.PrometheusBuckets) > 0 {
		buckets := make([]string, len(c.PrometheusBuckets))
		for i, b := range c.PrometheusBuckets {
			buckets[i] = strconv.FormatFloat(b, 'f', -1, 64)
		}
		add(EnvPrometheusBuckets, strings.Join(buckets, ","))
	}
	add(EnvLogRecord, flag(c.LogRecord))
	add(EnvTargetIsAliveHTTPEndpoint, c.TargetIsAliveHTTPEndpoint)

	raw := make([]string, 0, len(c.Raw))
	for name := range c.Raw {
		raw = append(raw, name)
	}
	sort.Strings(raw)
	for _, name := range raw {
		vars = append(vars, EnvVar{Name: name, Value: c.Raw[name]})
	}
	return vars
}

// Env renders EnvVars as a map for the container request.
func (c Config) Env() map[string]string {
	vars := c.EnvVars()
	env := make(map[string]string, len(vars))
	for _, v := range vars {
		env[v.Name] = v.Value
	}
	return env
}

// literalTopic matches route patterns that are plain Kafka topic names. A dot
// is a metacharacter in the pattern but also legal in a topic name, so such a
// pattern names the topic it is spelled as.
var literalTopic = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// isLiteralTopic reports whether pattern names exactly one creatable topic.
func isLiteralTopic(pattern string) bool {
	if pattern == "." || pattern == ".." {
		return false
	}
	return literalTopic.MatchString(pattern)
}

// Topics returns the literal topic names referenced by the config: route
// patterns that are plain topic names plus the retry and dead-letter topics.
// Topology pre-creates these alongside explicit topics.
func (c Config) Topics() []string {
	seen := make(map[string]struct{})
	var topics []string
	add := func(t string) {
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		topics = append(topics, t)
	}
	for _, r := range c.Routes {
		if isLiteralTopic(r.TopicPattern) {
			add(r.TopicPattern)
		}
	}
	add(c.RetryTopic)
	add(c.DeadLetterTopic)
	return topics
}
