package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty": {},
		"short": []byte("Hello"),
		"table": bytes.Repeat([]byte{5, 0, 0, 0, 'H', 'e', 'l', 'l', 'o'}, 64),
	}
	for _, name := range Names() {
		c, err := Lookup(name)
		if err != nil {
			t.Fatal(err)
		}
		for label, in := range inputs {
			t.Run(name+"/"+label, func(t *testing.T) {
				packed, err := c.Compress(in)
				if err != nil {
					t.Fatalf("Compress: %v", err)
				}
				out, err := c.Decompress(packed)
				if err != nil {
					t.Fatalf("Decompress: %v", err)
				}
				if !bytes.Equal(out, in) {
					t.Errorf("round trip mismatch: got %d bytes, want %d", len(out), len(in))
				}
			})
		}
	}
}

func TestLZMAHeaderCarriesSize(t *testing.T) {
	in := []byte("constants table")
	packed, err := LZMA{}.Compress(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(packed) < 13 {
		t.Fatalf("stream too short: %d bytes", len(packed))
	}
	if size := binary.LittleEndian.Uint64(packed[5:13]); size != uint64(len(in)) {
		t.Errorf("header size = %d, want %d", size, len(in))
	}
}

func TestLZMAEmptyPayload(t *testing.T) {
	packed, err := LZMA{}.Compress(nil)
	if err != nil {
		t.Fatal(err)
	}
	if size := binary.LittleEndian.Uint64(packed[5:13]); size != 0 {
		t.Fatalf("header size = %d, want 0", size)
	}
	out, err := LZMA{}.Decompress(packed)
	if err != nil || len(out) != 0 {
		t.Errorf("Decompress = %v, %v", out, err)
	}

	// Header alone: properties, dictionary size and a zero length.
	header := []byte{0x5d, 0, 0, 0x10, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	if out, err := (LZMA{}).Decompress(header); err != nil || len(out) != 0 {
		t.Errorf("Decompress(header) = %v, %v", out, err)
	}
}

func TestLookup(t *testing.T) {
	c, err := Lookup("")
	if err != nil || c.Name() != Default {
		t.Errorf("Lookup(\"\") = %v, %v", c, err)
	}
	if _, err := Lookup("rar"); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("Lookup(rar) = %v", err)
	}
}

func TestDecompressGarbage(t *testing.T) {
	for _, name := range []string{"lzma", "zstd", "lz4"} {
		c, _ := Lookup(name)
		if _, err := c.Decompress([]byte{0xff, 0xff, 0xff}); err == nil {
			t.Errorf("%s accepted garbage", name)
		}
	}
}
