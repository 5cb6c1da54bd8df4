package wire

import "fmt"

// Method identifies an RPC method on the Store service. It travels in every
// frame's envelope ahead of the payload (see frame.go) so a dispatcher can
// route without decoding the payload.
type Method uint8

const (
	MethodGetRepoInfo Method = iota + 1
	MethodGetObject
	MethodPutObject
	MethodGetOperation
	MethodPutOperation
	MethodGetView
	MethodPutView
	MethodResolveOperationIDPrefix
	MethodGetHeads
	MethodUpdateOpHeads
	MethodWatchHeads
	MethodCancelWatch
	MethodGetHeadsSnapshot
	MethodGetRelatedCopies
	// MethodNotify is server->client only: a push on an open watch stream.
	MethodNotify
)

var methodNames = map[Method]string{
	MethodGetRepoInfo:              "getRepoInfo",
	MethodGetObject:                "getObject",
	MethodPutObject:                "putObject",
	MethodGetOperation:             "getOperation",
	MethodPutOperation:             "putOperation",
	MethodGetView:                  "getView",
	MethodPutView:                  "putView",
	MethodResolveOperationIDPrefix: "resolveOperationIdPrefix",
	MethodGetHeads:                 "getHeads",
	MethodUpdateOpHeads:            "updateOpHeads",
	MethodWatchHeads:               "watchHeads",
	MethodCancelWatch:              "cancelWatch",
	MethodGetHeadsSnapshot:         "getHeadsSnapshot",
	MethodGetRelatedCopies:         "getRelatedCopies",
	MethodNotify:                   "notify",
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("method(%d)", uint8(m))
}

// --- request/response payloads, one pair per Store method ---

type GetObjectRequest struct {
	Kind ObjectKind
	ID   string
}

type GetObjectResponse struct {
	Data []byte
}

type PutObjectRequest struct {
	Kind ObjectKind
	Data []byte
}

type PutObjectResponse struct {
	ID             string
	NormalizedData []byte
}

type GetOperationRequest struct {
	ID string
}

type GetOperationResponse struct {
	Data []byte
}

type PutOperationRequest struct {
	Data []byte
}

type PutOperationResponse struct {
	ID string
}

type GetViewRequest struct {
	ID string
}

type GetViewResponse struct {
	Data []byte
}

type PutViewRequest struct {
	Data []byte
}

type PutViewResponse struct {
	ID string
}

type ResolveOperationIDPrefixRequest struct {
	HexPrefix string
}

type ResolveOperationIDPrefixResponse struct {
	Resolution PrefixResolution
	Match      string
}

type GetHeadsResponse struct {
	Heads         []string
	Version       uint64
	WorkspaceHeads map[string]string
}

type UpdateOpHeadsRequest struct {
	OldIDs          []string
	NewID           string
	ExpectedVersion uint64
	WorkspaceID     string
}

type UpdateOpHeadsResponse struct {
	OK             bool
	Heads          []string
	Version        uint64
	WorkspaceHeads map[string]string
}

type WatchHeadsRequest struct {
	AfterVersion uint64
}

// WatchHeadsAck carries the watcher id the client must reference to cancel.
type WatchHeadsAck struct {
	WatchID string
}

// NotifyPush is what the server streams to a watching client. It reuses the
// same frame type as a request/response pair would, but travels
// unsolicited on the connection that registered the watch.
type NotifyPush struct {
	WatchID string
	Version uint64
	Heads   []string
}

type CancelWatchRequest struct {
	WatchID string
}

type GetHeadsSnapshotResponse struct {
	Heads      []string
	Version    uint64
	Operations [][]byte
	Views      [][]byte
}

type GetRelatedCopiesRequest struct {
	CopyID string
}

type GetRelatedCopiesResponse struct {
	Copies []string
}
