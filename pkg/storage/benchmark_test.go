// ABOUTME: Performance benchmarks for storage codecs
// ABOUTME: Measures record and header value encoding throughput

package storage

import (
	"testing"

	"github.com/nainya/timeindex/pkg/timestamp"
)

func BenchmarkEncodeFixed(b *testing.B) {
	r := Record{
		IndexTime: timestamp.FromMillis(10),
		DataTime:  timestamp.FromMillis(9),
		Offset:    4096,
		Stored:    30,
		Size:      64,
		ID:        5,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := DecodeFixed(r.EncodeFixed()); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeValues(b *testing.B) {
	values := []Value{
		NewStringValue("readings"),
		NewTimestampValue(timestamp.FromMillis(1_700_000_000_000)),
		NewInt64Value(12345),
	}
	encoded := EncodeValues(values)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := DecodeValues(encoded)
		if err != nil {
			b.Fatal(err)
		}
	}
}
