// Package envelope encodes and decodes the telemetry feed's JSON wire envelopes.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/c360/paramstream/pkg/timestamp"
)

// Reserved values that mark a parameter as having no usable reading.
const (
	NullValue  = "NULL"
	EmptyValue = ""
)

// Sample is one decoded parameter reading.
type Sample struct {
	ID        int64  `json:"id"`
	Label     string `json:"label"`
	Value     string `json:"value"`
	Timestamp string `json:"timestamp"`
	Channel   string `json:"channel,omitempty"`
}

// Time parses the source timestamp. ISO 8601 and numeric unix forms are accepted.
func (s Sample) Time() (time.Time, bool) {
	return timestamp.ParseTime(s.Timestamp)
}

// IsValid reports whether a value may fill a slot.
func IsValid(value string) bool {
	return value != NullValue && value != EmptyValue
}

type subscribeRequest struct {
	WPUSHG subscribeBody `json:"WPUSHG"`
}

type subscribeBody struct {
	WPUSHGID string `json:"WPUSHGID"`
	Maxrate  int    `json:"Maxrate"`
	Minrate  int    `json:"Minrate"`
}

type writeRequest struct {
	WSP writeBody `json:"WSP"`
}

type writeBody struct {
	WSPID    string `json:"WSPID"`
	WSPUnits string `json:"WSPUnits"`
	WSPVal   string `json:"WSPVal"`
}

// EncodeSubscribe builds the group subscription request sent first on every connection.
func EncodeSubscribe(group string, maxRate, minRate int) ([]byte, error) {
	return json.Marshal(subscribeRequest{WPUSHG: subscribeBody{
		WPUSHGID: group,
		Maxrate:  maxRate,
		Minrate:  minRate,
	}})
}

// EncodeWrite builds a set-parameter request. Units are always "1".
func EncodeWrite(name string, value any) ([]byte, error) {
	return json.Marshal(writeRequest{WSP: writeBody{
		WSPID:    name,
		WSPUnits: "1",
		WSPVal:   Stringify(value),
	}})
}

// Stringify renders a value the way it is carried on the wire.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case error:
		return v.Error()
	default:
		return fmt.Sprint(v)
	}
}

// Decode extracts a Sample from an inbound frame. It never fails loudly:
// anything that is not a parameter message yields ok == false.
func Decode(frame []byte) (Sample, bool) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return Sample{}, false
	}

	var msg map[string]json.RawMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		// Frames sometimes arrive with trailing garbage after a complete object.
		msg = nil
		dec := json.NewDecoder(bytes.NewReader(frame))
		if err := dec.Decode(&msg); err != nil {
			return Sample{}, false
		}
	}

	rawMGP, ok := msg["MGP"]
	if !ok {
		return Sample{}, false
	}
	var mgp map[string]json.RawMessage
	if err := json.Unmarshal(rawMGP, &mgp); err != nil || mgp == nil {
		return Sample{}, false
	}

	rawLabel, ok := mgp["MGPLabel"]
	if !ok || isNull(rawLabel) {
		return Sample{}, false
	}

	return Sample{
		ID:        scalarInt(mgp["MGPID"]),
		Label:     scalarString(rawLabel),
		Value:     scalarString(mgp["ParamVal"]),
		Timestamp: scalarString(mgp["Timestamp"]),
	}, true
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// scalarString renders a JSON value to its string form: strings unquoted,
// numbers and booleans as written, null as empty, objects and arrays compacted.
func scalarString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	raw = bytes.TrimSpace(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String()
	}
	return string(raw)
}

func scalarInt(raw json.RawMessage) int64 {
	s := strings.TrimSpace(scalarString(raw))
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}
