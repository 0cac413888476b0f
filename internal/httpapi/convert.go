package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Protobuf bodies are google.protobuf.Struct messages whose fields mirror
// the JSON bodies. Both directions go through the JSON form so the field
// names and strictness stay identical across wire formats.

func readStruct(r *http.Request, v any) error {
	var msg structpb.Struct
	if err := readProto(r, &msg); err != nil {
		return err
	}
	raw, err := protojson.Marshal(&msg)
	if err != nil {
		return err
	}
	return decodeJSON(bytes.NewReader(raw), v)
}

func structFrom(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var msg structpb.Struct
	if err := protojson.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
