package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrMalformed is returned when a payload cannot be parsed.
	ErrMalformed = errors.New("protocol: malformed payload")

	// ErrUnknownVariant is returned when a payload carries an operation tag
	// this version does not know.
	ErrUnknownVariant = errors.New("protocol: unknown operation tag")
)

// Wire tags identifying each Operation variant. These are stable across
// versions: new variants get new numbers, existing numbers never change.
const (
	tagConnect    = 1
	tagSendText   = 2
	tagBroadcast  = 3
	tagDisconnect = 4
	tagAck        = 5
)

// Field numbers within an encoded operation. Field 1 is always the variant
// tag; fields 2 and 3 carry the variant's string attributes in declaration
// order.
const (
	fieldTag protowire.Number = 1
	fieldA   protowire.Number = 2
	fieldB   protowire.Number = 3
)

// Encode serializes op into a self-describing binary payload. Fields are
// emitted in a fixed order, so equal operations produce identical bytes.
func Encode(op Operation) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = protowire.AppendTag(buf, fieldTag, protowire.VarintType)
	switch v := op.(type) {
	case Connect:
		buf = protowire.AppendVarint(buf, tagConnect)
		buf = appendStringField(buf, fieldA, v.ClientID)
	case SendText:
		buf = protowire.AppendVarint(buf, tagSendText)
		buf = appendStringField(buf, fieldA, v.Body)
	case Broadcast:
		buf = protowire.AppendVarint(buf, tagBroadcast)
		buf = appendStringField(buf, fieldA, v.From)
		buf = appendStringField(buf, fieldB, v.Body)
	case Disconnect:
		buf = protowire.AppendVarint(buf, tagDisconnect)
		buf = appendStringField(buf, fieldA, v.ClientID)
	case Ack:
		buf = protowire.AppendVarint(buf, tagAck)
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", op)
	}
	return pack(buf), nil
}

// Decode parses a payload produced by Encode. Unknown fields within a known
// variant are skipped for forward compatibility; an unknown variant tag is
// ErrUnknownVariant, anything unparsable is ErrMalformed.
func Decode(data []byte) (Operation, error) {
	body, err := unpack(data)
	if err != nil {
		return nil, err
	}

	var (
		tag    uint64
		sawTag bool
		a, b   string
	)
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, ErrMalformed
		}
		body = body[n:]

		switch {
		case num == fieldTag && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, ErrMalformed
			}
			tag, sawTag = v, true
			body = body[n:]
		case num == fieldA && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(body)
			if n < 0 {
				return nil, ErrMalformed
			}
			a = s
			body = body[n:]
		case num == fieldB && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(body)
			if n < 0 {
				return nil, ErrMalformed
			}
			b = s
			body = body[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return nil, ErrMalformed
			}
			body = body[n:]
		}
	}
	if !sawTag {
		return nil, ErrMalformed
	}

	switch tag {
	case tagConnect:
		return Connect{ClientID: a}, nil
	case tagSendText:
		return SendText{Body: a}, nil
	case tagBroadcast:
		return Broadcast{From: a, Body: b}, nil
	case tagDisconnect:
		return Disconnect{ClientID: a}, nil
	case tagAck:
		return Ack{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownVariant, tag)
	}
}

func appendStringField(buf []byte, num protowire.Number, s string) []byte {
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendString(buf, s)
}
