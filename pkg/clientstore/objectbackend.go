package clientstore

import (
	"bytes"
	"context"
	"io"

	"github.com/i5heu/tandem/pkg/rpcclient"
	"github.com/i5heu/tandem/pkg/wire"
)

// ObjectBackend implements the VCS library's object-backend trait: reading
// and writing commits, trees, files and symlinks, each a one-for-one
// translation into getObject/putObject.
type ObjectBackend struct {
	client *rpcclient.Client
	info   wire.RepoInfo
}

// ReadObject returns the bytes of the object as stored.
func (o *ObjectBackend) ReadObject(ctx context.Context, kind wire.ObjectKind, id string) ([]byte, error) {
	f := o.client.Call(ctx, wire.MethodGetObject, wire.GetObjectRequest{Kind: kind, ID: id})
	resp, err := rpcclient.Await[wire.GetObjectResponse](ctx, f)
	if err != nil {
		return nil, translateError(err)
	}
	return resp.Data, nil
}

// ReadFile returns a streamed byte source for a file object.
func (o *ObjectBackend) ReadFile(ctx context.Context, id string) (io.ReadCloser, error) {
	data, err := o.ReadObject(ctx, wire.KindFile, id)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// WriteFile drains src into a buffer and writes it as one file object.
func (o *ObjectBackend) WriteFile(ctx context.Context, src io.Reader) (id string, err error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}
	return o.writeObject(ctx, wire.KindFile, data)
}

// WriteSymlink writes a symlink object (target path as bytes).
func (o *ObjectBackend) WriteSymlink(ctx context.Context, target string) (string, error) {
	return o.writeObject(ctx, wire.KindSymlink, []byte(target))
}

// WriteTree writes a tree object.
func (o *ObjectBackend) WriteTree(ctx context.Context, data []byte) (string, error) {
	return o.writeObject(ctx, wire.KindTree, data)
}

// Signer applies a local signature to commit bytes before they are sent.
// A nil Signer means commits are written unsigned.
type Signer func(commitBytes []byte) ([]byte, error)

// WriteCommit sends the VCS library's canonical commit bytes (signed
// locally first if sign is non-nil) and decodes the server-returned
// normalized bytes, since the server may fill in the committer field.
func (o *ObjectBackend) WriteCommit(ctx context.Context, data []byte, sign Signer) (id string, normalized []byte, err error) {
	if sign != nil {
		data, err = sign(data)
		if err != nil {
			return "", nil, err
		}
	}
	return o.putObjectFull(ctx, wire.KindCommit, data)
}

// WriteCopy writes a copy-tracking record. It fails with ErrUnsupported,
// without a round trip, if the server does not advertise the copyTracking
// capability; copy writes are strict, never best-effort.
func (o *ObjectBackend) WriteCopy(ctx context.Context, data []byte) (string, error) {
	if !o.info.HasCapability(wire.CapCopyTracking) {
		return "", ErrUnsupported
	}
	return o.writeObject(ctx, wire.KindCopy, data)
}

// ReadRelatedCopies returns copies related to copyID, or ErrUnsupported if
// the server lacks the capability.
func (o *ObjectBackend) ReadRelatedCopies(ctx context.Context, copyID string) ([]string, error) {
	if !o.info.HasCapability(wire.CapCopyTracking) {
		return nil, ErrUnsupported
	}
	f := o.client.Call(ctx, wire.MethodGetRelatedCopies, wire.GetRelatedCopiesRequest{CopyID: copyID})
	resp, err := rpcclient.Await[wire.GetRelatedCopiesResponse](ctx, f)
	if err != nil {
		return nil, translateError(err)
	}
	return resp.Copies, nil
}

func (o *ObjectBackend) writeObject(ctx context.Context, kind wire.ObjectKind, data []byte) (string, error) {
	id, _, err := o.putObjectFull(ctx, kind, data)
	return id, err
}

func (o *ObjectBackend) putObjectFull(ctx context.Context, kind wire.ObjectKind, data []byte) (string, []byte, error) {
	f := o.client.Call(ctx, wire.MethodPutObject, wire.PutObjectRequest{Kind: kind, Data: data})
	resp, err := rpcclient.Await[wire.PutObjectResponse](ctx, f)
	if err != nil {
		return "", nil, translateError(err)
	}
	return resp.ID, resp.NormalizedData, nil
}

// PutObjectAsync issues a putObject call and returns its Future without
// waiting, so a caller building a dependent write chain can keep issuing
// while this call is still in flight. Use
// rpcclient.Await[wire.PutObjectResponse] to resolve it.
func (o *ObjectBackend) PutObjectAsync(ctx context.Context, kind wire.ObjectKind, data []byte) *rpcclient.Future {
	return o.client.CallPipelined(ctx, wire.MethodPutObject, wire.PutObjectRequest{Kind: kind, Data: data})
}
