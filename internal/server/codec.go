package server

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name of the codec negotiated via the gRPC content-subtype. All wire
// messages in this package are plain structs serialized as JSON, so no
// generated protobuf code is required on either side.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
