package snapshot

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xtxerr/perfkit/internal/errors"
)

// Field numbers of the Batch message.
const (
	batchTakenAt protowire.Number = 1
	batchHost    protowire.Number = 2
	batchRecord  protowire.Number = 3
)

// Field numbers of the Record message.
const (
	recSection        protowire.Number = 1
	recName           protowire.Number = 2
	recKind           protowire.Number = 3
	recDescription    protowire.Number = 4
	recTimestamp      protowire.Number = 5
	recValue          protowire.Number = 6
	recInteger        protowire.Number = 7
	recTotal          protowire.Number = 8
	recPercentiles    protowire.Number = 9
	recHasPercentiles protowire.Number = 10
)

// ============================================================================
// Encoding
// ============================================================================

// Marshal encodes a batch.
func Marshal(b *Batch) []byte {
	return AppendBatch(nil, b)
}

// AppendBatch appends the encoding of b to buf.
func AppendBatch(buf []byte, b *Batch) []byte {
	if b.TakenAtMs != 0 {
		buf = protowire.AppendTag(buf, batchTakenAt, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(b.TakenAtMs))
	}
	if b.Host != "" {
		buf = protowire.AppendTag(buf, batchHost, protowire.BytesType)
		buf = protowire.AppendString(buf, b.Host)
	}
	var rec []byte
	for i := range b.Records {
		rec = AppendRecord(rec[:0], &b.Records[i])
		buf = protowire.AppendTag(buf, batchRecord, protowire.BytesType)
		buf = protowire.AppendBytes(buf, rec)
	}
	return buf
}

// AppendRecord appends the encoding of one record to buf.
// Zero-valued fields are omitted.
func AppendRecord(buf []byte, r *Record) []byte {
	buf = appendString(buf, recSection, r.Section)
	buf = appendString(buf, recName, r.Name)
	buf = appendString(buf, recKind, r.Kind)
	buf = appendString(buf, recDescription, r.Description)
	if r.TimestampMs != 0 {
		buf = protowire.AppendTag(buf, recTimestamp, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(r.TimestampMs))
	}
	if r.Value != 0 {
		buf = protowire.AppendTag(buf, recValue, protowire.Fixed64Type)
		buf = protowire.AppendFixed64(buf, math.Float64bits(r.Value))
	}
	if r.Integer != 0 {
		buf = protowire.AppendTag(buf, recInteger, protowire.VarintType)
		buf = protowire.AppendVarint(buf, r.Integer)
	}
	if r.Total != 0 {
		buf = protowire.AppendTag(buf, recTotal, protowire.VarintType)
		buf = protowire.AppendVarint(buf, r.Total)
	}
	if r.HasPercentiles {
		buf = protowire.AppendTag(buf, recPercentiles, protowire.BytesType)
		buf = protowire.AppendVarint(buf, uint64(NumPercentiles*8))
		for _, p := range r.Percentiles {
			buf = protowire.AppendFixed64(buf, math.Float64bits(p))
		}
		buf = protowire.AppendTag(buf, recHasPercentiles, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeBool(true))
	}
	return buf
}

func appendString(buf []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendString(buf, s)
}

// ============================================================================
// Decoding
// ============================================================================

// Unmarshal decodes a batch. Unknown fields are skipped.
func Unmarshal(data []byte) (*Batch, error) {
	b := &Batch{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, corrupt("batch tag", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == batchTakenAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, corrupt("taken_at", protowire.ParseError(n))
			}
			b.TakenAtMs = int64(v)
			data = data[n:]

		case num == batchHost && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, corrupt("host", protowire.ParseError(n))
			}
			b.Host = v
			data = data[n:]

		case num == batchRecord && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, corrupt("record", protowire.ParseError(n))
			}
			var r Record
			if err := UnmarshalRecord(v, &r); err != nil {
				return nil, fmt.Errorf("record %d: %w", len(b.Records), err)
			}
			b.Records = append(b.Records, r)
			data = data[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, corrupt("unknown field", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return b, nil
}

// UnmarshalRecord decodes one record into r.
func UnmarshalRecord(data []byte, r *Record) error {
	npct := 0
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return corrupt("record tag", protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return corrupt("bytes field", protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case recSection:
				r.Section = string(v)
			case recName:
				r.Name = string(v)
			case recKind:
				r.Kind = string(v)
			case recDescription:
				r.Description = string(v)
			case recPercentiles:
				for len(v) > 0 {
					bits, m := protowire.ConsumeFixed64(v)
					if m < 0 {
						return corrupt("percentiles", protowire.ParseError(m))
					}
					if npct < NumPercentiles {
						r.Percentiles[npct] = math.Float64frombits(bits)
					}
					npct++
					v = v[m:]
				}
			}

		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return corrupt("varint field", protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case recTimestamp:
				r.TimestampMs = int64(v)
			case recInteger:
				r.Integer = v
			case recTotal:
				r.Total = v
			case recHasPercentiles:
				r.HasPercentiles = protowire.DecodeBool(v)
			}

		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return corrupt("fixed64 field", protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case recValue:
				r.Value = math.Float64frombits(v)
			case recPercentiles:
				if npct < NumPercentiles {
					r.Percentiles[npct] = math.Float64frombits(v)
				}
				npct++
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return corrupt("unknown field", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

func corrupt(what string, err error) error {
	return fmt.Errorf("%s: %v: %w", what, err, errors.ErrCorruptRecord)
}
