package stt

import (
	"encoding/json"

	"github.com/kaptinlin/jsonrepair"
)

// unmarshalModelJSON unmarshals JSON emitted by a language model into v.
// Models occasionally wrap their answer in prose or emit trailing commas;
// if the strict parse fails with a syntax error the payload is repaired
// with jsonrepair and parsed once more. Any other failure is returned
// as-is so schema mismatches stay visible.
func unmarshalModelJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, repairErr := jsonrepair.JSONRepair(string(data))
		if repairErr != nil {
			return err
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}
