package mocktarget

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Fault is a transport-level failure the target injects instead of a response.
type Fault string

// Faults supported by the target.
const (
	ConnectionResetByPeer  Fault = "CONNECTION_RESET_BY_PEER"
	EmptyResponse          Fault = "EMPTY_RESPONSE"
	MalformedResponseChunk Fault = "MALFORMED_RESPONSE_CHUNK"
	RandomDataThenClose    Fault = "RANDOM_DATA_THEN_CLOSE"
)

// RequestMatcher selects requests by method and URL. Exactly one of the URL
// fields should be set; Method defaults to any method.
type RequestMatcher struct {
	Method         string `json:"method,omitempty"`
	URL            string `json:"url,omitempty"`
	URLPath        string `json:"urlPath,omitempty"`
	URLPattern     string `json:"urlPattern,omitempty"`
	URLPathPattern string `json:"urlPathPattern,omitempty"`
}

// Path returns the matcher's URL expression, whichever form is set.
func (m RequestMatcher) Path() string {
	switch {
	case m.URL != "":
		return m.URL
	case m.URLPath != "":
		return m.URLPath
	case m.URLPattern != "":
		return m.URLPattern
	default:
		return m.URLPathPattern
	}
}

func (m RequestMatcher) normalized() RequestMatcher {
	if m.Method == "" {
		m.Method = "ANY"
	}
	return m
}

// Response is the canned reply of a mapping. When Fault is set the other
// fields are ignored.
type Response struct {
	Status     int
	Body       string
	JSONBody   any
	Headers    map[string]string
	Fault      Fault
	FixedDelay time.Duration
}

// Mapping pairs a request matcher with a response.
type Mapping struct {
	Request  RequestMatcher
	Response Response
	Priority int
}

// Respond builds a mapping for method and url answering with status.
func Respond(method, url string, status int) Mapping {
	return Mapping{
		Request:  RequestMatcher{Method: method, URL: url},
		Response: Response{Status: status},
	}
}

// Reset builds a mapping for method and url that resets the connection.
func Reset(method, url string) Mapping {
	return Mapping{
		Request:  RequestMatcher{Method: method, URL: url},
		Response: Response{Fault: ConnectionResetByPeer},
	}
}

// MappingHandle identifies a registered mapping.
type MappingHandle struct {
	ID      string
	Request RequestMatcher
}

type wireResponse struct {
	Status                 int               `json:"status,omitempty"`
	Body                   string            `json:"body,omitempty"`
	JSONBody               any               `json:"jsonBody,omitempty"`
	Headers                map[string]string `json:"headers,omitempty"`
	Fault                  Fault             `json:"fault,omitempty"`
	FixedDelayMilliseconds int64             `json:"fixedDelayMilliseconds,omitempty"`
}

type wireMapping struct {
	ID       string         `json:"id,omitempty"`
	Request  RequestMatcher `json:"request"`
	Response wireResponse   `json:"response"`
	Priority int            `json:"priority,omitempty"`
}

func (m Mapping) wire() wireMapping {
	resp := wireResponse{
		Status:                 m.Response.Status,
		Body:                   m.Response.Body,
		JSONBody:               m.Response.JSONBody,
		Headers:                m.Response.Headers,
		Fault:                  m.Response.Fault,
		FixedDelayMilliseconds: m.Response.FixedDelay.Milliseconds(),
	}
	if resp.Fault != "" {
		resp = wireResponse{Fault: resp.Fault}
	} else if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	return wireMapping{
		Request:  m.Request.normalized(),
		Response: resp,
		Priority: m.Priority,
	}
}

// CallRecord is one request observed by the target.
type CallRecord struct {
	URL       string
	Method    string
	Body      string
	Headers   map[string]string
	Timestamp time.Time
}

// DecodeBody unmarshals the JSON body into v.
func (c CallRecord) DecodeBody(v any) error {
	return json.Unmarshal([]byte(c.Body), v)
}

// Header returns the value of a header, matched case-insensitively.
func (c CallRecord) Header(name string) string {
	if v, ok := c.Headers[name]; ok {
		return v
	}
	for k, v := range c.Headers {
		if http.CanonicalHeaderKey(k) == http.CanonicalHeaderKey(name) {
			return v
		}
	}
	return ""
}

// WithoutHeaders returns a copy without the named headers, matched
// case-insensitively. Use it to drop values that differ on every delivery
// before comparing calls.
func (c CallRecord) WithoutHeaders(names ...string) CallRecord {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[http.CanonicalHeaderKey(n)] = struct{}{}
	}
	headers := make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		if _, ok := drop[http.CanonicalHeaderKey(k)]; ok {
			continue
		}
		headers[k] = v
	}
	c.Headers = headers
	return c
}

// StripHeaders applies WithoutHeaders to every call.
func StripHeaders(calls []CallRecord, names ...string) []CallRecord {
	out := make([]CallRecord, len(calls))
	for i, c := range calls {
		out[i] = c.WithoutHeaders(names...)
	}
	return out
}

type loggedRequest struct {
	URL        string                     `json:"url"`
	Method     string                     `json:"method"`
	Body       string                     `json:"body"`
	Headers    map[string]json.RawMessage `json:"headers"`
	LoggedDate int64                      `json:"loggedDate"`
}

func (r loggedRequest) record() CallRecord {
	headers := make(map[string]string, len(r.Headers))
	for k, raw := range r.Headers {
		headers[k] = headerValue(raw)
	}
	return CallRecord{
		URL:       r.URL,
		Method:    r.Method,
		Body:      r.Body,
		Headers:   headers,
		Timestamp: time.UnixMilli(r.LoggedDate),
	}
}

// headerValue flattens a journal header, which is either a string or a list
// of strings, into a single comma separated value.
func headerValue(raw json.RawMessage) string {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	var multi []string
	if err := json.Unmarshal(raw, &multi); err == nil {
		return strings.Join(multi, ",")
	}
	return string(raw)
}
