package scenarios

import "sort"

var registry = map[string]func(Env) Scenario{
	"produce-consume":                    func(e Env) Scenario { return NewProduceConsumeScenario(e, nil) },
	"burst":                              func(e Env) Scenario { return NewBurstScenario(e, nil) },
	"record-headers":                     func(e Env) Scenario { return NewRecordHeadersScenario(e) },
	"body-headers":                       func(e Env) Scenario { return NewBodyHeadersScenario(e) },
	"retry-topic":                        func(e Env) Scenario { return NewRetryTopicScenario(e) },
	"target-503":                         func(e Env) Scenario { return NewUnavailableTargetScenario(e) },
	"connection-reset":                   func(e Env) Scenario { return NewConnectionResetScenario(e) },
	"late-target":                        func(e Env) Scenario { return NewLateTargetScenario(e) },
	"dead-letter-invalid-json":           func(e Env) Scenario { return NewInvalidJSONScenario(e) },
	"dead-letter-missing-endpoint":       func(e Env) Scenario { return NewMissingEndpointScenario(e) },
	"dead-letter-status-code":            func(e Env) Scenario { return NewStatusCodeDeadLetterScenario(e) },
	"batch-dead-letter-status-code":      func(e Env) Scenario { return NewBatchStatusCodeDeadLetterScenario(e) },
	"batch-dead-letter-missing-endpoint": func(e Env) Scenario { return NewBatchMissingEndpointScenario(e) },
	"batch-produce-consume":              func(e Env) Scenario { return NewBatchRoutesScenario(e) },
	"stream-pick-field":                  func(e Env) Scenario { return NewStreamPickFieldScenario(e) },
	"regex-routes":                       func(e Env) Scenario { return NewRegexRoutesScenario(e) },
	"batch-pick-field":                   func(e Env) Scenario { return NewBatchPickFieldScenario(e) },
	"batch-filter-project":               func(e Env) Scenario { return NewBatchFilterProjectScenario(e) },
	"broker-unavailable":                 func(e Env) Scenario { return NewBrokerUnavailableScenario(e) },
	"health":                             func(e Env) Scenario { return NewHealthScenario(e) },
}

// Names returns every registered scenario name, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByName creates the named scenario, or returns nil for an unknown name.
func ByName(name string, env Env) Scenario {
	create, ok := registry[name]
	if !ok {
		return nil
	}
	return create(env)
}

// All creates every registered scenario in name order.
func All(env Env) []Scenario {
	names := Names()
	out := make([]Scenario, 0, len(names))
	for _, name := range names {
		out = append(out, registry[name](env))
	}
	return out
}
