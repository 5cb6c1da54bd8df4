package repodb

import (
	"encoding/json"
	"fmt"
)

// CommitRecord is the tandem-native shape of a commit object. encoding/json
// marshals struct fields in declaration order, so two CommitRecords with the
// same field values always produce byte-identical output — the determinism
// content-addressing depends on.
type CommitRecord struct {
	Author    string   `json:"author"`
	Committer string   `json:"committer"`
	Message   string   `json:"message"`
	TreeID    string   `json:"tree_id"`
	ParentIDs []string `json:"parent_ids,omitempty"`
}

// normalizeCommit fills in a commit's committer field from its author when
// absent, then re-marshals it canonically. Commits are the only object
// kind the server rewrites; every other kind round-trips its bytes
// unchanged.
func normalizeCommit(data []byte) ([]byte, error) {
	var c CommitRecord
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("malformed commit: %w", err)
	}
	if c.Committer == "" {
		c.Committer = c.Author
	}
	out, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("re-marshal commit: %w", err)
	}
	return out, nil
}
