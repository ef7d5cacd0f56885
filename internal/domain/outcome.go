package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Outcome is the terminal result of one ExecutionRequest: either a success
// carrying a serializable value, or a failure carrying a kind and message.
// The zero value is not a valid outcome. Outcomes are immutable; the With*
// methods return modified copies.
type Outcome struct {
	ok       bool
	value    any
	kind     Kind
	message  string
	logs     []string
	duration time.Duration
}

// Success returns a successful outcome holding value.
func Success(value any) Outcome {
	return Outcome{ok: true, value: value}
}

// Failure returns a failed outcome.
func Failure(kind Kind, message string) Outcome {
	return Outcome{kind: kind, message: message}
}

// FailureFrom classifies err into a failed outcome.
func FailureFrom(err error) Outcome {
	return Failure(KindOf(err), MessageOf(err))
}

func (o Outcome) OK() bool                { return o.ok }
func (o Outcome) Value() any              { return o.value }
func (o Outcome) Kind() Kind              { return o.kind }
func (o Outcome) Message() string         { return o.message }
func (o Outcome) Logs() []string          { return slices.Clone(o.logs) }
func (o Outcome) Duration() time.Duration { return o.duration }

// Valid reports whether o was produced by Success or Failure.
func (o Outcome) Valid() bool {
	return o.ok || o.kind.Valid()
}

// Err returns nil for a success and an *Error otherwise.
func (o Outcome) Err() error {
	if o.ok {
		return nil
	}
	return &Error{Kind: o.kind, Message: o.message}
}

// WithLogs returns a copy of o carrying the captured console lines.
func (o Outcome) WithLogs(logs []string) Outcome {
	o.logs = slices.Clone(logs)
	return o
}

// WithDuration returns a copy of o carrying the wall-clock execution time.
func (o Outcome) WithDuration(d time.Duration) Outcome {
	o.duration = d
	return o
}

// ValueJSON renders the success value as JSON text.
func (o Outcome) ValueJSON() ([]byte, error) {
	if !o.ok {
		return nil, o.Err()
	}
	if raw, ok := o.value.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(o.value)
}

func (o Outcome) String() string {
	if o.ok {
		if b, err := o.ValueJSON(); err == nil {
			return "success(" + string(b) + ")"
		}
		return fmt.Sprintf("success(%v)", o.value)
	}
	return fmt.Sprintf("%s(%s)", o.kind, o.message)
}

type successWire struct {
	Status     string   `json:"status"`
	Value      any      `json:"value"`
	Logs       []string `json:"logs,omitempty"`
	DurationMS *int64   `json:"duration_ms,omitempty"`
}

type failureWire struct {
	Status     string   `json:"status"`
	Kind       Kind     `json:"kind"`
	Message    string   `json:"message"`
	Logs       []string `json:"logs,omitempty"`
	DurationMS *int64   `json:"duration_ms,omitempty"`
}

// MarshalJSON encodes o as {"status":"success","value":...} or
// {"status":"error","kind":...,"message":...}.
func (o Outcome) MarshalJSON() ([]byte, error) {
	var ms *int64
	if o.duration > 0 {
		v := o.duration.Milliseconds()
		ms = &v
	}
	if o.ok {
		return json.Marshal(successWire{Status: StatusSuccess, Value: o.value, Logs: o.logs, DurationMS: ms})
	}
	return json.Marshal(failureWire{Status: StatusError, Kind: o.kind, Message: o.message, Logs: o.logs, DurationMS: ms})
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var w struct {
		Status     string          `json:"status"`
		Value      json.RawMessage `json:"value"`
		Kind       Kind            `json:"kind"`
		Message    string          `json:"message"`
		Logs       []string        `json:"logs"`
		DurationMS int64           `json:"duration_ms"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var out Outcome
	switch w.Status {
	case StatusSuccess:
		raw := json.RawMessage("null")
		if len(w.Value) > 0 {
			raw = slices.Clone(w.Value)
		}
		out = Success(raw)
	case StatusError:
		if !w.Kind.Valid() {
			return fmt.Errorf("unknown outcome kind %q", w.Kind)
		}
		out = Failure(w.Kind, w.Message)
	default:
		return fmt.Errorf("unknown outcome status %q", w.Status)
	}
	out.logs = w.Logs
	out.duration = time.Duration(w.DurationMS) * time.Millisecond
	*o = out
	return nil
}
