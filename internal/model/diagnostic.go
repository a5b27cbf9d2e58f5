package model

import (
	"encoding/json"
	"fmt"
)

// Terminal result codes used by the gateway and the simulated terminal.
const (
	DiagOK              = 1
	DiagFail            = -1
	DiagInvalidParams   = -2
	DiagNotFound        = -4
	DiagAuthFailed      = -6
	DiagInternalFail    = -10000
	DiagIPCSendFailed   = -10001
	DiagIPCRecvFailed   = -10002
	DiagInitFailed      = -10003
	DiagNoIPCConnection = -10004
	DiagTimeout         = -10005
)

// Diagnostic is the terminal's last-error pair. It is relayed as the
// two-element JSON array [code, "message"].
type Diagnostic struct {
	Code    int
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("(%d, %q)", d.Code, d.Message)
}

// MarshalJSON encodes the diagnostic as [code, message].
func (d Diagnostic) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{d.Code, d.Message})
}

// UnmarshalJSON accepts [code, message] or {"code":..,"message":..}.
func (d *Diagnostic) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("diagnostic: expected 2 elements, got %d", len(pair))
		}
		if err := json.Unmarshal(pair[0], &d.Code); err != nil {
			return fmt.Errorf("diagnostic code: %w", err)
		}
		if err := json.Unmarshal(pair[1], &d.Message); err != nil {
			return fmt.Errorf("diagnostic message: %w", err)
		}
		return nil
	}
	var obj struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("diagnostic: %w", err)
	}
	d.Code, d.Message = obj.Code, obj.Message
	return nil
}
