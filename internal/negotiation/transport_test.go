package negotiation

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWriteThenReadLengthPrefixedRoundTrips(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("hello"),
		[]byte(`{"swap_id":"abc","address":"0xdead"}`),
		bytes.Repeat([]byte{0xab}, 4096),
	}

	for _, data := range cases {
		var buf bytes.Buffer
		if err := writeLengthPrefixed(&buf, data); err != nil {
			t.Fatalf("writeLengthPrefixed(%d bytes): %v", len(data), err)
		}

		got, err := readLengthPrefixed(&buf)
		if err != nil {
			t.Fatalf("readLengthPrefixed: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("got %q, want %q", got, data)
		}
	}
}

func TestWriteLengthPrefixedRejectsOversizedMessage(t *testing.T) {
	var buf bytes.Buffer
	oversized := bytes.Repeat([]byte{0}, maxMessageSize+1)
	if err := writeLengthPrefixed(&buf, oversized); err == nil {
		t.Fatal("expected an error for a message over maxMessageSize")
	}
}

func TestReadLengthPrefixedRejectsOversizedClaim(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(maxMessageSize+1))
	if _, err := readLengthPrefixed(&buf); err == nil {
		t.Fatal("expected an error when the length prefix exceeds maxMessageSize")
	}
}

func TestReadLengthPrefixedRejectsTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(10))
	buf.WriteString("short")
	if _, err := readLengthPrefixed(&buf); err == nil {
		t.Fatal("expected an error when fewer bytes are available than the length prefix claims")
	}
}
