package avro

import (
	"encoding/binary"
	"fmt"
	"math"

	havro "github.com/hamba/avro/v2"
)

// Confluent framing: magic byte, 4-byte big-endian schema id, Avro body.
const (
	wireMagic      = 0x00
	wireHeaderSize = 1 + 4
)

// Marshal encodes the record to Avro binary, without any framing.
func (r *Record) Marshal() ([]byte, error) {
	return havro.Marshal(r.Schema, r.Native)
}

// EncodeWire frames rec for the registry id schemaID.
func EncodeWire(schemaID int, rec *Record) ([]byte, error) {
	if schemaID < 0 || uint64(schemaID) > math.MaxUint32 {
		return nil, fmt.Errorf("avro: registry id %d does not fit the wire header", schemaID)
	}
	body, err := rec.Marshal()
	if err != nil {
		return nil, fmt.Errorf("avro: encode body (id %d): %w", schemaID, err)
	}

	buf := make([]byte, 0, wireHeaderSize+len(body))
	buf = append(buf, wireMagic)
	buf = binary.BigEndian.AppendUint32(buf, uint32(schemaID))
	return append(buf, body...), nil
}

// DecodeWire reads the registry id from payload and decodes the body with schema.
func DecodeWire(schema havro.Schema, payload []byte) (int, any, error) {
	if len(payload) < wireHeaderSize {
		return 0, nil, fmt.Errorf("avro: wire payload of %d bytes is shorter than its header", len(payload))
	}
	if payload[0] != wireMagic {
		return 0, nil, fmt.Errorf("avro: unexpected wire magic 0x%02x", payload[0])
	}
	id := int(binary.BigEndian.Uint32(payload[1:wireHeaderSize]))

	var out any
	if err := havro.Unmarshal(schema, payload[wireHeaderSize:], &out); err != nil {
		return id, nil, fmt.Errorf("avro: decode body (id %d): %w", id, err)
	}
	return id, out, nil
}
