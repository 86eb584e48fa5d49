// Package ingest normalizes inbound sensor payloads into events and hosts the
// sensor-side clients that submit them.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"vigilanteye/core"
)

// ErrMalformedPayload marks client errors. Malformed payloads are never
// persisted.
var ErrMalformedPayload = errors.New("malformed payload")

// MaxBodySize bounds every ingestion request body.
const MaxBodySize = 1 << 20

const (
	// DefaultSource is used when a flat payload names no sensor.
	DefaultSource = "unknown"
	// WazuhDefaultSource names events from envelopes without an agent name.
	WazuhDefaultSource = "Wazuh Manager"
	// WazuhDefaultDescription replaces a missing rule description.
	WazuhDefaultDescription = "No description"
	// WazuhMessagePrefix marks stored Wazuh envelopes.
	WazuhMessagePrefix = "WAZUH ALERT: "
	// WazuhUsername is the actor recorded for Wazuh events.
	WazuhUsername = "system"
)

var payloadValidator = validator.New()

// EventPayload is the flat sensor submission. Message is accepted as an
// alias for Event.
type EventPayload struct {
	Source    string `json:"source" validate:"max=256"`
	Event     string `json:"event,omitempty" validate:"required_without=Message,max=65536"`
	Message   string `json:"message,omitempty" validate:"required_without=Event,max=65536"`
	IPAddress string `json:"ip_address,omitempty" validate:"max=64"`
	Username  string `json:"username,omitempty" validate:"max=256"`
}

// ParseEventPayload decodes and validates a flat submission.
func ParseEventPayload(body []byte) (core.NewEvent, error) {
	var p EventPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return core.NewEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return p.Normalize()
}

// Normalize validates p and maps it to a NewEvent.
func (p EventPayload) Normalize() (core.NewEvent, error) {
	if err := payloadValidator.Struct(p); err != nil {
		return core.NewEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	text := p.Event
	if text == "" {
		text = p.Message
	}
	source := strings.TrimSpace(p.Source)
	if source == "" {
		source = DefaultSource
	}
	return core.NewEvent{
		Source:    source,
		Message:   text,
		IPAddress: strings.TrimSpace(p.IPAddress),
		Username:  strings.TrimSpace(p.Username),
	}, nil
}

// wazuhSchema accepts any object whose known members, when present, have the
// expected shape. Unknown members are ignored.
const wazuhSchema = `{
	"type": "object",
	"properties": {
		"alert": {
			"type": ["object", "null"],
			"properties": {
				"rule": {
					"type": ["object", "null"],
					"properties": {
						"description": {"type": ["string", "null"]}
					}
				}
			}
		},
		"agent": {
			"type": ["object", "null"],
			"properties": {
				"name": {"type": ["string", "null"]},
				"ip": {"type": ["string", "null"]}
			}
		}
	}
}`

var wazuhEnvelopeSchema = mustCompileSchema(wazuhSchema)

func mustCompileSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded schema: %v", err))
	}
	return schema
}

type wazuhEnvelope struct {
	Alert *struct {
		Rule *struct {
			Description *string `json:"description"`
		} `json:"rule"`
	} `json:"alert"`
	Agent *struct {
		Name *string `json:"name"`
		IP   *string `json:"ip"`
	} `json:"agent"`
}

// ParseWazuhAlert normalizes a Wazuh webhook envelope.
func ParseWazuhAlert(body []byte) (core.NewEvent, error) {
	result, err := wazuhEnvelopeSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return core.NewEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return core.NewEvent{}, fmt.Errorf("%w: %s", ErrMalformedPayload, strings.Join(msgs, "; "))
	}

	var env wazuhEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return core.NewEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	ev := core.NewEvent{
		Source:   WazuhDefaultSource,
		Message:  WazuhMessagePrefix + WazuhDefaultDescription,
		Username: WazuhUsername,
	}
	if env.Agent != nil {
		if env.Agent.Name != nil && strings.TrimSpace(*env.Agent.Name) != "" {
			ev.Source = *env.Agent.Name
		}
		if env.Agent.IP != nil {
			if ip := strings.TrimSpace(*env.Agent.IP); ip != "" && !strings.EqualFold(ip, "N/A") {
				ev.IPAddress = ip
			}
		}
	}
	if env.Alert != nil && env.Alert.Rule != nil && env.Alert.Rule.Description != nil && *env.Alert.Rule.Description != "" {
		ev.Message = WazuhMessagePrefix + *env.Alert.Rule.Description
	}
	return ev, nil
}
