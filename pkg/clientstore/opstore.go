package clientstore

import (
	"context"

	"github.com/i5heu/tandem/pkg/rpcclient"
	"github.com/i5heu/tandem/pkg/wire"
)

// OpStore implements the VCS library's op-store trait: reading and writing
// operations and views, and resolving id prefixes. The root operation id
// is short-circuited locally from the handshake descriptor rather than
// round-tripping to the server.
type OpStore struct {
	client *rpcclient.Client
	info   wire.RepoInfo
}

// RootOperationID returns the handshake-advertised root operation id
// without a network call.
func (o *OpStore) RootOperationID() string { return o.info.RootOperationID }

func (o *OpStore) ReadOperation(ctx context.Context, id string) ([]byte, error) {
	f := o.client.Call(ctx, wire.MethodGetOperation, wire.GetOperationRequest{ID: id})
	resp, err := rpcclient.Await[wire.GetOperationResponse](ctx, f)
	if err != nil {
		return nil, translateError(err)
	}
	return resp.Data, nil
}

func (o *OpStore) WriteOperation(ctx context.Context, data []byte) (string, error) {
	f := o.client.Call(ctx, wire.MethodPutOperation, wire.PutOperationRequest{Data: data})
	resp, err := rpcclient.Await[wire.PutOperationResponse](ctx, f)
	if err != nil {
		return "", translateError(err)
	}
	return resp.ID, nil
}

// WriteOperationAsync is the pipelined form used by a dependent write
// chain.
func (o *OpStore) WriteOperationAsync(ctx context.Context, data []byte) *rpcclient.Future {
	return o.client.CallPipelined(ctx, wire.MethodPutOperation, wire.PutOperationRequest{Data: data})
}

func (o *OpStore) ReadView(ctx context.Context, id string) ([]byte, error) {
	f := o.client.Call(ctx, wire.MethodGetView, wire.GetViewRequest{ID: id})
	resp, err := rpcclient.Await[wire.GetViewResponse](ctx, f)
	if err != nil {
		return nil, translateError(err)
	}
	return resp.Data, nil
}

func (o *OpStore) WriteView(ctx context.Context, data []byte) (string, error) {
	f := o.client.Call(ctx, wire.MethodPutView, wire.PutViewRequest{Data: data})
	resp, err := rpcclient.Await[wire.PutViewResponse](ctx, f)
	if err != nil {
		return "", translateError(err)
	}
	return resp.ID, nil
}

// WriteViewAsync is the pipelined form.
func (o *OpStore) WriteViewAsync(ctx context.Context, data []byte) *rpcclient.Future {
	return o.client.CallPipelined(ctx, wire.MethodPutView, wire.PutViewRequest{Data: data})
}

func (o *OpStore) ResolveIDPrefix(ctx context.Context, hexPrefix string) (wire.PrefixResolution, string, error) {
	f := o.client.Call(ctx, wire.MethodResolveOperationIDPrefix, wire.ResolveOperationIDPrefixRequest{HexPrefix: hexPrefix})
	resp, err := rpcclient.Await[wire.ResolveOperationIDPrefixResponse](ctx, f)
	if err != nil {
		return wire.NoMatch, "", translateError(err)
	}
	return resp.Resolution, resp.Match, nil
}
