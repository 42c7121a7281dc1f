// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"fmt"

	"github.com/ledgermesh/ledgermesh/artifact"
	"github.com/ledgermesh/ledgermesh/lib/codec"
)

// FrameType tags a gossip frame on the wire. Protocol constants.
type FrameType uint8

const (
	// FrameAdvert announces an artifact without its payload.
	FrameAdvert FrameType = 1

	// FrameRequest asks the peer for an advertised artifact's payload.
	FrameRequest FrameType = 2

	// FramePayload carries artifact bytes in answer to a request.
	FramePayload FrameType = 3

	// FrameNotAvailable tells the requester the artifact is no longer
	// held (advertised, then evicted), so it can reassign immediately
	// instead of waiting out the request timeout.
	FrameNotAvailable FrameType = 4
)

// String returns the frame type name for logs.
func (t FrameType) String() string {
	switch t {
	case FrameAdvert:
		return "advert"
	case FrameRequest:
		return "request"
	case FramePayload:
		return "payload"
	case FrameNotAvailable:
		return "not_available"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Frame is one gossip protocol message, CBOR-encoded onto the
// transport. Which fields are meaningful depends on Type: Advert is
// set only for FrameAdvert; ID for the other three; Kind and Payload
// only for FramePayload.
type Frame struct {
	Type    FrameType       `cbor:"type"`
	Advert  *artifact.Advert `cbor:"advert,omitempty"`
	ID      artifact.ID     `cbor:"id"`
	Kind    artifact.Kind   `cbor:"kind,omitempty"`
	Payload []byte          `cbor:"payload,omitempty"`
}

// AdvertFrame builds an advert announcement.
func AdvertFrame(advert artifact.Advert) Frame {
	return Frame{Type: FrameAdvert, Advert: &advert, ID: advert.ID}
}

// RequestFrame builds a payload request.
func RequestFrame(id artifact.ID) Frame {
	return Frame{Type: FrameRequest, ID: id}
}

// PayloadFrame builds a payload delivery.
func PayloadFrame(id artifact.ID, kind artifact.Kind, payload []byte) Frame {
	return Frame{Type: FramePayload, ID: id, Kind: kind, Payload: payload}
}

// NotAvailableFrame builds a negative response to a request.
func NotAvailableFrame(id artifact.ID) Frame {
	return Frame{Type: FrameNotAvailable, ID: id}
}

// Encode serializes the frame in deterministic CBOR.
func (f Frame) Encode() ([]byte, error) {
	return codec.Marshal(f)
}

// DecodeFrame parses and validates one frame. Frames with an unknown
// type or missing required fields are rejected here, before any state
// is touched.
func DecodeFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := codec.Unmarshal(raw, &frame); err != nil {
		return Frame{}, fmt.Errorf("decoding gossip frame: %w", err)
	}
	switch frame.Type {
	case FrameAdvert:
		if frame.Advert == nil {
			return Frame{}, fmt.Errorf("advert frame without advert")
		}
		if err := frame.Advert.Validate(); err != nil {
			return Frame{}, err
		}
		frame.ID = frame.Advert.ID
	case FrameRequest, FrameNotAvailable:
		if frame.ID == (artifact.ID{}) {
			return Frame{}, fmt.Errorf("%s frame without artifact ID", frame.Type)
		}
	case FramePayload:
		if frame.ID == (artifact.ID{}) {
			return Frame{}, fmt.Errorf("payload frame without artifact ID")
		}
		if !frame.Kind.Valid() {
			return Frame{}, fmt.Errorf("payload frame with invalid kind %d", uint8(frame.Kind))
		}
	default:
		return Frame{}, fmt.Errorf("unknown gossip frame type %d", uint8(frame.Type))
	}
	return frame, nil
}
