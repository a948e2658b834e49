// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// PayloadType is the wire tag of a Payload variant.
type PayloadType string

// Wire tags of the Version1 payloads. These values must never change.
const (
	TypePing      PayloadType = "ping"
	TypePong      PayloadType = "pong"
	TypeSpawn     PayloadType = "spawn"
	TypeSpawned   PayloadType = "spawned"
	TypeDespawn   PayloadType = "despawn"
	TypeDespawned PayloadType = "despawned"
)

// Payload is one variant of an Envelope's tagged union.
type Payload interface {
	PayloadType() PayloadType
}

// Ping requests a Pong on the same bidirectional stream.
type Ping struct{}

// Pong answers a Ping.
type Pong struct{}

// Spawn asks the peer to spawn an entity for this connection.
type Spawn struct{}

// Spawned announces a spawned entity and its position.
type Spawned struct {
	ID string
	X  float32
	Y  float32
}

// Despawn asks the peer to remove this connection's entity.
type Despawn struct{}

// Despawned announces a removed entity.
type Despawned struct {
	ID string
}

func (Ping) PayloadType() PayloadType      { return TypePing }
func (Pong) PayloadType() PayloadType      { return TypePong }
func (Spawn) PayloadType() PayloadType     { return TypeSpawn }
func (Spawned) PayloadType() PayloadType   { return TypeSpawned }
func (Despawn) PayloadType() PayloadType   { return TypeDespawn }
func (Despawned) PayloadType() PayloadType { return TypeDespawned }

type variant struct {
	encode func(Payload) (json.RawMessage, error)
	decode func(json.RawMessage) (Payload, error)
}

var variants = map[PayloadType]variant{
	TypePing:      bareVariant(Ping{}),
	TypePong:      bareVariant(Pong{}),
	TypeSpawn:     unitVariant(Spawn{}),
	TypeDespawn:   unitVariant(Despawn{}),
	TypeSpawned:   {encode: encodeSpawned, decode: decodeSpawned},
	TypeDespawned: {encode: encodeDespawned, decode: decodeDespawned},
}

var errUnexpectedMessage = errors.New("variant carries no message")

// bareVariant has no "message" key at all.
func bareVariant(p Payload) variant {
	return variant{
		encode: func(Payload) (json.RawMessage, error) { return nil, nil },
		decode: func(raw json.RawMessage) (Payload, error) {
			if !isAbsent(raw) {
				return nil, errUnexpectedMessage
			}
			return p, nil
		},
	}
}

// unitVariant is serialized with an explicit "message":null.
func unitVariant(p Payload) variant {
	return variant{
		encode: func(Payload) (json.RawMessage, error) { return json.RawMessage("null"), nil },
		decode: func(raw json.RawMessage) (Payload, error) {
			if !isAbsent(raw) {
				return nil, errUnexpectedMessage
			}
			return p, nil
		},
	}
}

type wireSpawned struct {
	ID string  `json:"id"`
	X  float32 `json:"x"`
	Y  float32 `json:"y"`
}

type wireDespawned struct {
	ID string `json:"id"`
}

var errInvalidID = errors.New("id is not valid UTF-8")

func encodeSpawned(p Payload) (json.RawMessage, error) {
	s, err := payloadAs[Spawned](p)
	if err != nil {
		return nil, err
	}
	if !utf8.ValidString(s.ID) {
		return nil, errInvalidID
	}
	return json.Marshal(wireSpawned{ID: s.ID, X: s.X, Y: s.Y})
}

func decodeSpawned(raw json.RawMessage) (Payload, error) {
	fields, err := messageFields(raw)
	if err != nil {
		return nil, err
	}

	var s Spawned
	if err := requiredField(fields, "id", &s.ID); err != nil {
		return nil, err
	}
	if err := requiredField(fields, "x", &s.X); err != nil {
		return nil, err
	}
	if err := requiredField(fields, "y", &s.Y); err != nil {
		return nil, err
	}
	return s, nil
}

func encodeDespawned(p Payload) (json.RawMessage, error) {
	d, err := payloadAs[Despawned](p)
	if err != nil {
		return nil, err
	}
	if !utf8.ValidString(d.ID) {
		return nil, errInvalidID
	}
	return json.Marshal(wireDespawned{ID: d.ID})
}

func decodeDespawned(raw json.RawMessage) (Payload, error) {
	fields, err := messageFields(raw)
	if err != nil {
		return nil, err
	}

	var d Despawned
	if err := requiredField(fields, "id", &d.ID); err != nil {
		return nil, err
	}
	return d, nil
}

func messageFields(raw json.RawMessage) (map[string]json.RawMessage, error) {
	if isAbsent(raw) {
		return nil, errors.New("missing message")
	}
	return decodeObject(raw)
}

// payloadAs accepts both values and pointers of a variant.
func payloadAs[T Payload](p Payload) (T, error) {
	switch v := any(p).(type) {
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("payload %T is not a %T", p, zero)
}
