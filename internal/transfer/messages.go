package transfer

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Message is one data channel frame. Data is base64 in JSON and raw bytes
// in msgpack.
type Message struct {
	Type       string `json:"type" msgpack:"type"`
	ID         string `json:"id" msgpack:"id"`
	Name       string `json:"name,omitempty" msgpack:"name,omitempty"`
	Size       int64  `json:"size,omitempty" msgpack:"size,omitempty"`
	Data       []byte `json:"data,omitempty" msgpack:"data,omitempty"`
	ByteLength int    `json:"byteLength,omitempty" msgpack:"byteLength,omitempty"`
}

// Codec turns messages into data channel frames. Binary codecs go out as
// binary frames, the others as text frames.
type Codec interface {
	Name() string
	Binary() bool
	Marshal(Message) ([]byte, error)
	Unmarshal([]byte, *Message) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string                         { return "json" }
func (jsonCodec) Binary() bool                         { return false }
func (jsonCodec) Marshal(m Message) ([]byte, error)    { return json.Marshal(m) }
func (jsonCodec) Unmarshal(b []byte, m *Message) error { return json.Unmarshal(b, m) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string                         { return "msgpack" }
func (msgpackCodec) Binary() bool                         { return true }
func (msgpackCodec) Marshal(m Message) ([]byte, error)    { return msgpack.Marshal(&m) }
func (msgpackCodec) Unmarshal(b []byte, m *Message) error { return msgpack.Unmarshal(b, m) }

var (
	JSONCodec    Codec = jsonCodec{}
	MsgpackCodec Codec = msgpackCodec{}
)

func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec, nil
	case "msgpack":
		return MsgpackCodec, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// Decode reads a frame regardless of which codec the sender picked: text
// frames are JSON, binary frames are msgpack.
func Decode(frame webrtc.DataChannelMessage) (Message, error) {
	codec := MsgpackCodec
	if frame.IsString {
		codec = JSONCodec
	}
	var m Message
	if err := codec.Unmarshal(frame.Data, &m); err != nil {
		return Message{}, fmt.Errorf("decode %s frame: %w", codec.Name(), err)
	}
	return m, nil
}
