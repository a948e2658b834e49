// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package protocol defines the versioned, tagged message envelope exchanged
// over quicbridge streams and its textual serialization.
//
// An Envelope serializes into a JSON object with exactly two keys, "version"
// and "payload". The payload is itself tagged by its "type" key, and variants
// carrying data place it under "message":
//
//	{"version":"1","payload":{"type":"ping"}}
//	{"version":"1","payload":{"type":"spawned","message":{"id":"a","x":1,"y":2}}}
//
// Each variant's tag is stated explicitly in this package and does not depend
// on declaration order, so new variants never change the encoding of the
// existing ones.
package protocol
