package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/c360/bridgeharness/errors"
	"github.com/c360/bridgeharness/pkg/containerlog"
)

func retryTopicConfig() Config {
	return Config{
		GroupID:                                "test",
		TargetBaseURL:                          "http://mocks:8080",
		Routes:                                 Routes{Route("foo", "/consume")},
		RetryTopic:                             "retry",
		RetryProcessWhenStatusCodeMatch:        "511",
		ProduceToRetryTopicWhenStatusCodeMatch: "511",
		RetryPolicy: RetryPolicy{
			Backoff:     Backoff{Initial: 50 * time.Millisecond, Max: 500 * time.Millisecond, Factor: 10},
			MaxDuration: time.Second,
		},
	}
}

func TestConfig_EnvVarsRendersRetryScenario(t *testing.T) {
	env := retryTopicConfig().Env()

	assert.Equal(t, map[string]string{
		"KAFKA_BROKER":                                  "kafka:9092",
		"MONITORING_SERVER_PORT":                        "3000",
		"GROUP_ID":                                      "test",
		"TARGET_BASE_URL":                               "http://mocks:8080",
		"TOPICS_ROUTES":                                 "foo:/consume",
		"RETRY_TOPIC":                                   "retry",
		"RETRY_PROCESS_WHEN_STATUS_CODE_MATCH":          "511",
		"PRODUCE_TO_RETRY_TOPIC_WHEN_STATUS_CODE_MATCH": "511",
		"RETRY_POLICY_EXPONENTIAL_BACKOFF":              "50,500,10",
		"RETRY_POLICY_MAX_DURATION":                     "1000",
	}, env)
}

func TestConfig_EnvVarsOrderIsStable(t *testing.T) {
	cfg := retryTopicConfig()
	cfg.Raw = map[string]string{"Z_EXTRA": "1", "A_EXTRA": "2"}

	first := cfg.EnvVars()
	require.Equal(t, first, cfg.EnvVars())

	assert.Equal(t, EnvVar{Name: EnvBrokerAddress, Value: DefaultBrokerAddress}, first[0])
	assert.Equal(t, EnvVar{Name: EnvMonitoringPort, Value: "3000"}, first[1])
	assert.Equal(t, EnvVar{Name: "A_EXTRA", Value: "2"}, first[len(first)-2])
	assert.Equal(t, EnvVar{Name: "Z_EXTRA", Value: "1"}, first[len(first)-1])
}

func TestConfig_CallerValuesWinOverDefaults(t *testing.T) {
	cfg := Config{BrokerAddress: "foo", MonitoringPort: 4000}
	env := cfg.Env()
	assert.Equal(t, "foo", env[EnvBrokerAddress])
	assert.Equal(t, "4000", env[EnvMonitoringPort])
}

func TestConfig_OptionalValuesRendered(t *testing.T) {
	cfg := Config{
		BodyHeadersPaths:       []string{"bla", "baz"},
		TargetProcessType:      ProcessBatch,
		BatchParallelismFactor: 1,
		CommitInterval:         100 * time.Millisecond,
		RecordPickField:        "data",
		ConnectionFailureRetryPolicy: ConnectionRetryPolicy{
			Backoff:    Backoff{Initial: 5 * time.Millisecond, Max: 8000 * time.Second, Factor: 2},
			MaxRetries: 5,
		},
		UsePrometheus:     true,
		PrometheusBuckets: []float64{0.003, 1.5, 10},
	}
	env := cfg.Env()

	assert.Equal(t, "bla,baz", env[EnvBodyHeadersPaths])
	assert.Equal(t, "batch", env[EnvTargetProcessType])
	assert.Equal(t, "1", env[EnvBatchParallelismFactor])
	assert.Equal(t, "100", env[EnvCommitInterval])
	assert.Equal(t, "data", env[EnvRecordPickField])
	assert.Equal(t, "5,8000000,2", env[EnvConnectionRetryBackoff])
	assert.Equal(t, "5", env[EnvConnectionRetryMaxRetries])
	assert.Equal(t, "true", env[EnvUsePrometheus])
	assert.Equal(t, "0.003,1.5,10", env[EnvPrometheusBuckets])
	assert.NotContains(t, env, EnvConnectionRetryMaxDuration)
	assert.NotContains(t, env, EnvLogRecord)
}

func TestConfig_ValidateRejectsRawCollisions(t *testing.T) {
	cfg := retryTopicConfig()
	cfg.Raw = map[string]string{"GROUP_ID": "other", "SECURITY_PROTOCOL": "SSL"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "GROUP_ID")
	assert.NotContains(t, err.Error(), "SECURITY_PROTOCOL")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad route pattern", func(c *Config) { c.Routes = Routes{Route("foo(", "/x")} }, "route pattern"},
		{"missing path", func(c *Config) { c.Routes = Routes{Route("foo", "")} }, "no target path"},
		{"bad status pattern", func(c *Config) { c.ProduceToDeadLetterTopicWhenStatusCodeMatch = "4[" }, EnvDeadLetterWhenStatusMatch},
		{"backoff max below initial", func(c *Config) {
			c.RetryPolicy.Backoff = Backoff{Initial: time.Second, Max: time.Millisecond, Factor: 2}
		}, "below initial"},
		{"backoff factor", func(c *Config) {
			c.ConnectionFailureRetryPolicy.Backoff = Backoff{Initial: time.Millisecond, Max: time.Second, Factor: 0.5}
		}, "factor"},
		{"process type", func(c *Config) { c.TargetProcessType = "parallel" }, "process type"},
		{"port range", func(c *Config) { c.MonitoringPort = 70000 }, "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := retryTopicConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRoutes_Match(t *testing.T) {
	routes := Routes{
		Route("foo.*", "/consumeFoo"),
		Route("bar", "/consumeBar"),
		Route("foo-special", "/never"),
	}

	tests := []struct {
		topic string
		path  string
		ok    bool
	}{
		{"foo", "/consumeFoo", true},
		{"foo-special", "/consumeFoo", true},
		{"bar", "/consumeBar", true},
		{"barn", "", false},
		{"xbar", "", false},
		{"lol", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			path, ok := routes.Match(tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.path, path)
		})
	}
	assert.Equal(t, "foo.*:/consumeFoo,bar:/consumeBar,foo-special:/never", routes.String())
}

func TestParseRoutes(t *testing.T) {
	routes, err := ParseRoutes("foo:/consume, ba[rz]:/other,")
	require.NoError(t, err)
	assert.Equal(t, Routes{Route("foo", "/consume"), Route("ba[rz]", "/other")}, routes)

	_, err = ParseRoutes("foo")
	assert.True(t, errors.IsInvalid(err))
	_, err = ParseRoutes("foo:")
	assert.Error(t, err)
}

func TestParseBackoff(t *testing.T) {
	b, err := ParseBackoff("50,5000,10")
	require.NoError(t, err)
	assert.Equal(t, Backoff{Initial: 50 * time.Millisecond, Max: 5 * time.Second, Factor: 10}, b)
	assert.Equal(t, "50,5000,10", b.String())

	_, err = ParseBackoff("50,5000")
	assert.Error(t, err)
	_, err = ParseBackoff("50,x,2")
	assert.Error(t, err)
}

func TestConfig_Topics(t *testing.T) {
	cfg := Config{
		Routes:          Routes{Route("foo", "/a"), Route("bar.*", "/b"), Route("foo", "/c")},
		RetryTopic:      "retry",
		DeadLetterTopic: "dead",
	}
	assert.Equal(t, []string{"foo", "retry", "dead"}, cfg.Topics())
}

func TestConfig_TopicsLiteralPatterns(t *testing.T) {
	tests := []struct {
		pattern string
		created bool
	}{
		{"orders.v1", true},
		{"foo", true},
		{"my_topic-2", true},
		{"foo.*", false},
		{"^([^.]+).foo", false},
		{"ba[rz]", false},
		{"foo|bar", false},
		{"..", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			cfg := Config{Routes: Routes{Route(tt.pattern, "/consume")}}
			if tt.created {
				assert.Equal(t, []string{tt.pattern}, cfg.Topics())
			} else {
				assert.Empty(t, cfg.Topics())
			}
			assert.Equal(t, tt.created, isLiteralTopic(tt.pattern))
		})
	}
}

func TestState_Exited(t *testing.T) {
	assert.True(t, State{Status: "exited", ExitCode: 1}.Exited())
	assert.False(t, State{Status: "running", Running: true}.Exited())
}

// fakeContainer satisfies testcontainers.Container for the calls Service makes
// outside of Start.
type fakeContainer struct {
	testcontainers.Container
	endpoint    string
	endpointErr error
	terminated  int
}

func (f *fakeContainer) PortEndpoint(context.Context, nat.Port, string) (string, error) {
	return f.endpoint, f.endpointErr
}

func (f *fakeContainer) Terminate(context.Context, ...testcontainers.TerminateOption) error {
	f.terminated++
	return nil
}

func newTestService(ctr *fakeContainer) *Service {
	return &Service{
		container: ctr,
		capture:   containerlog.New(component),
		port:      "3000/tcp",
		http:      &http.Client{Timeout: time.Second},
		logger:    slog.Default(),
	}
}

func TestService_Probes(t *testing.T) {
	var ready atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case AlivePath:
			w.WriteHeader(http.StatusOK)
		case ReadyPath:
			if ready.Load() {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	svc := newTestService(&fakeContainer{endpoint: srv.URL})
	ctx := context.Background()

	assert.NoError(t, svc.LivenessProbe(ctx))

	err := svc.ReadinessProbe(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.True(t, errors.IsTransient(err))

	ready.Store(true)
	assert.NoError(t, svc.ReadinessProbe(ctx))
}

func TestService_ProbeRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	svc := newTestService(&fakeContainer{endpoint: url})
	assert.Error(t, svc.LivenessProbe(context.Background()))
}

func TestService_ProbeWithoutMappedPort(t *testing.T) {
	svc := newTestService(&fakeContainer{endpointErr: fmt.Errorf("port not found")})
	err := svc.ReadinessProbe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "map monitoring port")
}

func TestService_StopIsIdempotent(t *testing.T) {
	ctr := &fakeContainer{}
	svc := newTestService(ctr)

	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, 1, ctr.terminated)
}
