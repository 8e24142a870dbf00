package messaging

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Recognized directive keys.
const (
	keyRewardWeights = "reward_weights"
	keyUpgrade       = "upgrade"
)

// DecodeDirective decodes a directive request. The payload must be a JSON
// object. Unknown keys are collected in Directive.Ignored; a recognized key
// carrying the wrong JSON type is a DecodeError.
func DecodeDirective(data []byte) (Directive, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Directive{}, &DecodeError{Reason: "empty payload"}
	}
	if trimmed[0] != '{' {
		return Directive{}, &DecodeError{Reason: "payload is not a JSON object"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Directive{}, &DecodeError{Reason: "malformed JSON", Err: err}
	}

	var d Directive
	if raw, ok := fields[keyRewardWeights]; ok {
		var weights map[string]float64
		if err := json.Unmarshal(raw, &weights); err != nil || weights == nil {
			return Directive{}, &DecodeError{Reason: fmt.Sprintf("%q must be an object of numbers", keyRewardWeights), Err: err}
		}
		d.RewardWeights = weights
		d.kinds = append(d.kinds, DirectiveRewardWeights)
		delete(fields, keyRewardWeights)
	}
	if raw, ok := fields[keyUpgrade]; ok {
		var upgrade *string
		if err := json.Unmarshal(raw, &upgrade); err != nil || upgrade == nil {
			return Directive{}, &DecodeError{Reason: fmt.Sprintf("%q must be a string", keyUpgrade), Err: err}
		}
		d.Upgrade = *upgrade
		d.kinds = append(d.kinds, DirectiveUpgrade)
		delete(fields, keyUpgrade)
	}
	if len(fields) > 0 {
		d.Ignored = fields
	}
	return d, nil
}

// EncodeDirective is the client-side inverse of DecodeDirective. Ignored
// keys are written back so a relay does not lose them.
func EncodeDirective(d Directive) ([]byte, error) {
	fields := make(map[string]any, len(d.Ignored)+2)
	for k, v := range d.Ignored {
		fields[k] = v
	}
	if d.RewardWeights != nil {
		fields[keyRewardWeights] = d.RewardWeights
	}
	if d.Upgrade != "" || d.Has(DirectiveUpgrade) {
		fields[keyUpgrade] = d.Upgrade
	}
	return json.Marshal(fields)
}

// RewardWeightsDirective builds a directive merging weights into the
// reward.
func RewardWeightsDirective(weights map[string]float64) Directive {
	return Directive{RewardWeights: weights, kinds: []DirectiveKind{DirectiveRewardWeights}}
}

// UpgradeDirective builds a directive purchasing an upgrade.
func UpgradeDirective(name string) Directive {
	return Directive{Upgrade: name, kinds: []DirectiveKind{DirectiveUpgrade}}
}

// EncodeAck serializes a reply.
func EncodeAck(ack AckResponse) []byte {
	// AckResponse only holds strings; Marshal cannot fail.
	data, _ := json.Marshal(ack)
	return data
}

// DecodeAck parses a reply frame.
func DecodeAck(data []byte) (AckResponse, error) {
	var ack AckResponse
	if err := json.Unmarshal(data, &ack); err != nil {
		return AckResponse{}, fmt.Errorf("decode ack: %w", err)
	}
	if ack.Status != StatusOK && ack.Status != StatusError {
		return AckResponse{}, fmt.Errorf("decode ack: unknown status %q", ack.Status)
	}
	return ack, nil
}

func okAck() AckResponse { return AckResponse{Status: StatusOK} }

func errorAck(err error) AckResponse {
	return AckResponse{Status: StatusError, Message: err.Error()}
}
