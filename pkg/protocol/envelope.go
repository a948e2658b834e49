// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Version tags the layout of an Envelope's payload.
type Version string

// Version1 is currently the only known Version.
const Version1 Version = "1"

// Envelope is the unit carried by every quicbridge stream.
type Envelope struct {
	Version Version
	Payload Payload
}

// NewEnvelope wraps a Payload into a Version1 Envelope.
func NewEnvelope(payload Payload) Envelope {
	return Envelope{
		Version: Version1,
		Payload: payload,
	}
}

func (env Envelope) String() string {
	if env.Payload == nil {
		return fmt.Sprintf("v%s/<nil>", env.Version)
	}
	return fmt.Sprintf("v%s/%s", env.Version, env.Payload.PayloadType())
}

// wireEnvelope and wirePayload fix the key order of the serialized form.
type wireEnvelope struct {
	Version Version     `json:"version"`
	Payload wirePayload `json:"payload"`
}

type wirePayload struct {
	Type    PayloadType     `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
}

// Serialize encodes an Envelope into its textual wire form. The same Envelope
// always yields the same bytes.
func Serialize(env Envelope) ([]byte, error) {
	if env.Version != Version1 {
		return nil, newMalformed(nil, "unknown version %q", env.Version)
	}
	if env.Payload == nil {
		return nil, newMalformed(nil, "missing payload")
	}

	payloadType := env.Payload.PayloadType()
	v, ok := variants[payloadType]
	if !ok {
		return nil, newMalformed(nil, "unknown payload type %q", payloadType)
	}

	msg, err := v.encode(env.Payload)
	if err != nil {
		return nil, newMalformed(err, "encoding %q message", payloadType)
	}

	data, err := json.Marshal(wireEnvelope{
		Version: env.Version,
		Payload: wirePayload{
			Type:    payloadType,
			Message: msg,
		},
	})
	if err != nil {
		return nil, newMalformed(err, "encoding envelope")
	}
	return data, nil
}

// Deserialize decodes the textual wire form into an Envelope. Any input which
// is not a complete, valid envelope results in a CodecError of kind
// ErrMalformed. Keys are matched exactly and may appear only once per object.
func Deserialize(data []byte) (env Envelope, err error) {
	fields, err := decodeObject(data)
	if err != nil {
		err = newMalformed(err, "parsing envelope")
		return
	}

	var version Version
	if err = requiredField(fields, "version", &version); err != nil {
		err = newMalformed(err, "reading version")
		return
	}
	if version != Version1 {
		err = newMalformed(nil, "unknown version %q", version)
		return
	}

	rawPayload, ok := fields["payload"]
	if !ok || isAbsent(rawPayload) {
		err = newMalformed(nil, "missing payload")
		return
	}
	payloadFields, err := decodeObject(rawPayload)
	if err != nil {
		err = newMalformed(err, "parsing payload")
		return
	}

	var payloadType PayloadType
	if err = requiredField(payloadFields, "type", &payloadType); err != nil {
		err = newMalformed(err, "reading payload type")
		return
	}

	v, ok := variants[payloadType]
	if !ok {
		err = newMalformed(nil, "unknown payload type %q", payloadType)
		return
	}

	payload, decErr := v.decode(payloadFields["message"])
	if decErr != nil {
		err = newMalformed(decErr, "decoding %q message", payloadType)
		return
	}

	env = Envelope{
		Version: version,
		Payload: payload,
	}
	return
}

var errNotAnObject = errors.New("not a JSON object")

// decodeObject splits a JSON object into its raw members. Unlike decoding into
// a struct, keys are not folded and a repeated key is an error.
func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errNotAnObject
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(fields))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errNotAnObject
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate key %q", key)
		}
		seen[key] = struct{}{}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

// requiredField decodes the member key of fields into v. A missing or null
// member is an error.
func requiredField(fields map[string]json.RawMessage, key string, v interface{}) error {
	raw, ok := fields[key]
	if !ok || isAbsent(raw) {
		return fmt.Errorf("missing field %q", key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	return nil
}

// isAbsent reports a missing key or an explicit JSON null.
func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
