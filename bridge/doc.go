// Package bridge runs the Kafka-to-HTTP bridge under test.
//
// The bridge is configured through environment variables. Config is the typed
// form of that environment: each recognised option has a field, zero values
// leave the bridge default in place and Raw carries anything else.
//
//	cfg := bridge.Config{
//	    GroupID:       "test",
//	    TargetBaseURL: "http://mocks:8080",
//	    Routes:        bridge.Routes{bridge.Route("foo", "/consume")},
//	    DeadLetterTopic: "dead",
//	}
//	svc, err := bridge.Start(ctx, networkName, cfg, nil)
//
// KAFKA_BROKER and MONITORING_SERVER_PORT default to kafka:9092 and 3000.
// Start blocks until the readiness policy resolves; the default policy waits
// for the bridge to report its partition assignment, which implies its topics
// exist. On timeout the container is terminated and the returned error
// carries the captured output.
package bridge
