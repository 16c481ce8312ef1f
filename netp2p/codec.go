package netp2p

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
)

// Codec is the wire encode/decode boundary. spec.md explicitly puts wire
// encoding of any message type out of scope (§1 Non-goals): this module
// only needs the request/response contract, so the real codec (SSZ,
// protobuf, a custom binary format) is supplied by the embedding node.
type Codec interface {
	Encode(w io.Writer, v any) error
	Decode(r io.Reader, v any) error
}

// GobCodec is a default/test Codec. It is deliberately not meant for
// production use — none of the pack's wire-format libraries (SSZ,
// beserial-equivalents) are part of this module's dependency surface, so a
// production embedder supplies its own Codec; GobCodec exists purely so
// this package and its tests are self-contained.
type GobCodec struct{}

func (GobCodec) Encode(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(buf.Len()))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (GobCodec) Decode(r io.Reader, v any) error {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return err
	}
	n := binary.LittleEndian.Uint32(length[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(buf)).Decode(v)
}
