package frame

import (
	"testing"
)

func benchPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i)
	}
	return p
}

func BenchmarkEncode(b *testing.B) {
	f := &Frame{Fin: true, Opcode: OpBinary, Masked: true, Payload: benchPayload(4096)}
	b.SetBytes(4096)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Encode(f); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecode(b *testing.B) {
	wire, err := Encode(&Frame{Fin: true, Opcode: OpBinary, Masked: true, Payload: benchPayload(4096)})
	if err != nil {
		b.Fatal(err)
	}
	d := NewDecoder(0)
	b.SetBytes(int64(len(wire)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Push(wire)
		if _, err := d.Next(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeSplitDelivery(b *testing.B) {
	wire, err := Encode(&Frame{Fin: true, Opcode: OpBinary, Masked: true, Payload: benchPayload(4096)})
	if err != nil {
		b.Fatal(err)
	}
	half := len(wire) / 2
	d := NewDecoder(0)
	b.SetBytes(int64(len(wire)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Push(wire[:half])
		if _, err := d.Next(); err != ErrIncomplete {
			b.Fatal("expected incomplete frame")
		}
		d.Push(wire[half:])
		if _, err := d.Next(); err != nil {
			b.Fatal(err)
		}
	}
}
