package snapshot

import (
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xtxerr/perfkit/internal/errors"
)

func testBatch() *Batch {
	return &Batch{
		TakenAtMs: 1700000000123,
		Host:      "node-1",
		Records: []Record{
			{Section: "io", Name: "reads", Kind: "number", Description: "read calls",
				TimestampMs: 1700000000123, Value: -3, Integer: 1<<64 - 3, Total: 1<<64 - 3},
			{Section: "rpc", Name: "latency", Kind: "percentile", TimestampMs: 1700000000123,
				Value: 12.5, Integer: 12, Total: 40,
				Percentiles: [NumPercentiles]float64{10, 20, 30, 40, 50}, HasPercentiles: true},
			{Section: "net", Name: "idle", Kind: "rate"},
		},
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	want := testBatch()
	got, err := Unmarshal(Marshal(want))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if got.TakenAtMs != want.TakenAtMs || got.Host != want.Host {
		t.Errorf("batch header = %d/%q, want %d/%q", got.TakenAtMs, got.Host, want.TakenAtMs, want.Host)
	}
	if len(got.Records) != len(want.Records) {
		t.Fatalf("records = %d, want %d", len(got.Records), len(want.Records))
	}
	for i := range want.Records {
		if got.Records[i] != want.Records[i] {
			t.Errorf("record %d = %+v, want %+v", i, got.Records[i], want.Records[i])
		}
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	var buf []byte
	buf = protowire.AppendTag(buf, 99, protowire.BytesType)
	buf = protowire.AppendString(buf, "from a newer writer")
	buf = protowire.AppendTag(buf, 98, protowire.Fixed32Type)
	buf = protowire.AppendFixed32(buf, 7)
	buf = AppendBatch(buf, testBatch())

	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(got.Records) != 3 {
		t.Errorf("records = %d, want 3", len(got.Records))
	}
}

func TestUnmarshalUnpackedPercentiles(t *testing.T) {
	var rec []byte
	rec = protowire.AppendTag(rec, recName, protowire.BytesType)
	rec = protowire.AppendString(rec, "lat")
	for _, v := range []uint64{1, 2} {
		rec = protowire.AppendTag(rec, recPercentiles, protowire.Fixed64Type)
		rec = protowire.AppendFixed64(rec, v)
	}

	var r Record
	if err := UnmarshalRecord(rec, &r); err != nil {
		t.Fatal(err)
	}
	if r.Name != "lat" || r.Percentiles[0] == 0 || r.Percentiles[1] == 0 {
		t.Errorf("record = %+v", r)
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	b := testBatch()
	data := Marshal(b)
	header := len(Marshal(&Batch{TakenAtMs: b.TakenAtMs, Host: b.Host}))

	// Cut inside the first varint, inside the first record, and inside the last record.
	for _, cut := range []int{1, header + 3, len(data) - 1} {
		if _, err := Unmarshal(data[:cut]); !errors.Is(err, errors.ErrCorruptRecord) {
			t.Errorf("Unmarshal(data[:%d]) error = %v, want ErrCorruptRecord", cut, err)
		}
	}
}

func TestEmptyBatch(t *testing.T) {
	data := Marshal(&Batch{})
	if len(data) != 0 {
		t.Errorf("empty batch encodes to %d bytes", len(data))
	}
	b, err := Unmarshal(nil)
	if err != nil || len(b.Records) != 0 {
		t.Errorf("Unmarshal(nil) = %+v, %v", b, err)
	}
}

func BenchmarkMarshal(b *testing.B) {
	batch := testBatch()
	buf := make([]byte, 0, 1024)
	for i := 0; i < b.N; i++ {
		buf = AppendBatch(buf[:0], batch)
	}
}
