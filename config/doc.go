// Package config loads harness settings and scenario files.
//
// # Harness Settings
//
// Harness holds process-wide settings read from the environment over
// Defaults:
//
//	BROKER_IMAGE       broker image (default: broker package default)
//	MOCK_TARGET_IMAGE  mock target image
//	BRIDGE_IMAGE       bridge image
//	STARTUP_TIMEOUT    per-component startup bound, Go duration or milliseconds (default 5m)
//	VERBOSE            forward container output to the logger
//	LOG_DIR            mirror container output to <LOG_DIR>/<component>.log
//	TOPIC_PARTITIONS   partitions per pre-created topic (default 1)
//
//	h, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Scenario Files
//
// A scenario file describes one topology in YAML (or JSON): topics to create,
// extra mock targets, the bridge readiness policy and the bridge
// environment. Files are validated against an embedded JSON schema before
// decoding, and the bridge section is then validated as a bridge.Config.
//
//	name: retry-topic
//	topics: [foo, retry]
//	bridge:
//	  group_id: test
//	  target_base_url: http://mocks:8080
//	  routes:
//	    - {topic: foo, path: /consume}
//	  retry_topic: retry
//	  retry_policy: {backoff: "50,500,10", max_duration: 1000}
//
// Durations accept Go duration strings or integer milliseconds. Raw values
// must be strings and must not name an option that has a typed key.
package config
