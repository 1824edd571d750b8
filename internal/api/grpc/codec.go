package grpcapi

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype clients select with
// grpc.CallContentSubtype. Messages on the relay stream are the same JSON
// documents the websocket transport carries.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(rawJSONCodec{})
}

// Frame is one JSON document on the relay stream.
type Frame struct {
	Data []byte
}

// rawJSONCodec passes Frame payloads through untouched. Validation happens in
// the relay, exactly as for websocket clients.
type rawJSONCodec struct{}

func (rawJSONCodec) Name() string { return CodecName }

func (rawJSONCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("json codec: cannot marshal %T", v)
	}
	return f.Data, nil
}

func (rawJSONCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("json codec: cannot unmarshal into %T", v)
	}
	f.Data = append(f.Data[:0], data...)
	return nil
}
