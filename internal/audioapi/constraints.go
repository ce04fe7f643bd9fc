package audioapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// How an audio constraint names a device.
type DeviceIDMatch int

const (
	// No device named, any device will do
	DeviceIDAny DeviceIDMatch = iota
	// `deviceId: "id"`
	DeviceIDBare
	// `deviceId: {exact: "id"}`
	DeviceIDExact
	// `deviceId: {ideal: "id"}`
	DeviceIDIdeal
)

// The audio member of MediaStreamConstraints.
//
// In JSON it is either a boolean, or an object optionally holding a deviceId
// given as a string, {"exact": id} or {"ideal": id}.
type AudioConstraint struct {
	// False when audio is not requested at all
	Enabled bool

	// True for a plain `true`, as opposed to a constraint object
	Plain bool

	DeviceID string
	Match    DeviceIDMatch
}

// `audio: true`
func AnyAudio() AudioConstraint {
	return AudioConstraint{Enabled: true, Plain: true}
}

// `audio: {deviceId: id}`
func AudioDevice(deviceID string) AudioConstraint {
	return AudioConstraint{Enabled: true, DeviceID: deviceID, Match: DeviceIDBare}
}

// `audio: {deviceId: {exact: id}}`
func ExactAudioDevice(deviceID string) AudioConstraint {
	return AudioConstraint{Enabled: true, DeviceID: deviceID, Match: DeviceIDExact}
}

// `audio: {deviceId: {ideal: id}}`
func IdealAudioDevice(deviceID string) AudioConstraint {
	return AudioConstraint{Enabled: true, DeviceID: deviceID, Match: DeviceIDIdeal}
}

// Whether the constraint names deviceID as a bare or exact device id.
// An ideal device id is only a preference, and does not name the device.
func (c AudioConstraint) NamesDevice(deviceID string) bool {
	if !c.Enabled || c.DeviceID != deviceID {
		return false
	}
	return c.Match == DeviceIDBare || c.Match == DeviceIDExact
}

// Whether the constraint names any device other than deviceID as a bare or exact device id.
func (c AudioConstraint) NamesOtherDevice(deviceID string) bool {
	if !c.Enabled || c.DeviceID == deviceID {
		return false
	}
	return c.Match == DeviceIDBare || c.Match == DeviceIDExact
}

type deviceIDObject struct {
	Exact *string `json:"exact,omitempty"`
	Ideal *string `json:"ideal,omitempty"`
}

type audioConstraintObject struct {
	DeviceID json.RawMessage `json:"deviceId,omitempty"`
}

func (c *AudioConstraint) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null", "false":
		*c = AudioConstraint{}
		return nil
	case "true":
		*c = AnyAudio()
		return nil
	}

	var obj audioConstraintObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: audio: %w", ErrInvalidConstraint, err)
	}

	*c = AudioConstraint{Enabled: true}
	if len(obj.DeviceID) == 0 || string(obj.DeviceID) == "null" {
		return nil
	}

	var bare string
	if err := json.Unmarshal(obj.DeviceID, &bare); err == nil {
		c.DeviceID, c.Match = bare, DeviceIDBare
		return nil
	}

	var deviceID deviceIDObject
	if err := json.Unmarshal(obj.DeviceID, &deviceID); err != nil {
		return fmt.Errorf("%w: deviceId %s", ErrInvalidConstraint, obj.DeviceID)
	}
	switch {
	case deviceID.Exact != nil:
		c.DeviceID, c.Match = *deviceID.Exact, DeviceIDExact
	case deviceID.Ideal != nil:
		c.DeviceID, c.Match = *deviceID.Ideal, DeviceIDIdeal
	}
	return nil
}

func (c AudioConstraint) MarshalJSON() ([]byte, error) {
	if !c.Enabled {
		return []byte("false"), nil
	}
	if c.Plain {
		return []byte("true"), nil
	}

	var obj struct {
		DeviceID any `json:"deviceId,omitempty"`
	}
	switch c.Match {
	case DeviceIDBare:
		obj.DeviceID = c.DeviceID
	case DeviceIDExact:
		obj.DeviceID = deviceIDObject{Exact: &c.DeviceID}
	case DeviceIDIdeal:
		obj.DeviceID = deviceIDObject{Ideal: &c.DeviceID}
	}
	return json.Marshal(obj)
}

// Whether video is requested. Any video constraint object counts as a request.
type VideoConstraint bool

func (v *VideoConstraint) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "null", "false":
		*v = false
	default:
		*v = true
	}
	return nil
}

// What a caller asks GetUserMedia for.
type MediaStreamConstraints struct {
	Audio AudioConstraint `json:"audio"`
	Video VideoConstraint `json:"video,omitempty"`
}

// Decode constraints in their JavaScript object form, e.g. `{"audio": {"deviceId": {"exact": "x"}}}`.
func ParseConstraints(data []byte) (MediaStreamConstraints, error) {
	var constraints MediaStreamConstraints
	if err := json.Unmarshal(data, &constraints); err != nil {
		if errors.Is(err, ErrInvalidConstraint) {
			return MediaStreamConstraints{}, err
		}
		return MediaStreamConstraints{}, fmt.Errorf("%w: %w", ErrInvalidConstraint, err)
	}
	return constraints, nil
}
