package repodb

import (
	"encoding/json"
	"fmt"
)

// OperationRecord is the tandem-native shape of an operation object: a
// reference to the view it produced and, for every operation but the
// root, the parent it advances from.
type OperationRecord struct {
	ViewID   string `json:"view_id"`
	ParentID string `json:"parent_id,omitempty"`
}

// ViewRecord is the tandem-native shape of a view object: the
// per-workspace "current commit" mapping an operation's view carries,
// mirrored for cheap lookup in the head sidecar's workspace map.
type ViewRecord struct {
	WorkspaceHeads map[string]string `json:"workspace_heads"`
}

func encodeOperation(op OperationRecord) []byte {
	b, err := json.Marshal(op)
	if err != nil {
		// OperationRecord has no types json.Marshal can fail on.
		panic(fmt.Sprintf("repodb: encode operation: %v", err))
	}
	return b
}

func decodeOperation(data []byte) (OperationRecord, error) {
	var op OperationRecord
	if err := json.Unmarshal(data, &op); err != nil {
		return OperationRecord{}, fmt.Errorf("repodb: decode operation: %w", err)
	}
	return op, nil
}

// DecodeOperationViewID extracts the view id an operation's raw bytes
// reference, without a further store read. Exported for serverstore's
// getHeadsSnapshot handler, which already holds the operation bytes and
// only needs the view id to dedupe fetches across multiple heads.
func DecodeOperationViewID(data []byte) (string, error) {
	op, err := decodeOperation(data)
	if err != nil {
		return "", err
	}
	return op.ViewID, nil
}

func encodeView(v ViewRecord) []byte {
	if v.WorkspaceHeads == nil {
		v.WorkspaceHeads = map[string]string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("repodb: encode view: %v", err))
	}
	return b
}

func decodeView(data []byte) (ViewRecord, error) {
	var v ViewRecord
	if err := json.Unmarshal(data, &v); err != nil {
		return ViewRecord{}, fmt.Errorf("repodb: decode view: %w", err)
	}
	if v.WorkspaceHeads == nil {
		v.WorkspaceHeads = map[string]string{}
	}
	return v, nil
}
