package host

import (
	"context"
	"sync"

	"github.com/danmuck/contractrpc/internal/protocol"
	"github.com/danmuck/contractrpc/internal/wire"
)

type callKey struct{}

// callState is the per-call session, headers and files an implementation
// reads and updates through the package accessors.
type callState struct {
	mu       sync.Mutex
	session  string
	in       *wire.FoldMap
	out      *wire.FoldMap
	files    []protocol.File
	attached []protocol.File
}

func newCallState(req *protocol.ContractRequest) *callState {
	return &callState{
		session: req.Session,
		in:      req.Headers,
		out:     wire.NewFoldMap(),
		files:   req.Files,
	}
}

func withCall(ctx context.Context, cs *callState) context.Context {
	return context.WithValue(ctx, callKey{}, cs)
}

func callFrom(ctx context.Context) *callState {
	cs, _ := ctx.Value(callKey{}).(*callState)
	return cs
}

func (cs *callState) outcome() (string, *wire.FoldMap, []protocol.File) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := cs.out
	if out.Len() == 0 {
		out = nil
	}
	return cs.session, out, cs.attached
}

// Session returns the caller's session id, or "" outside a call.
func Session(ctx context.Context) string {
	cs := callFrom(ctx)
	if cs == nil {
		return ""
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.session
}

// SetSession replaces the session id returned to the caller.
func SetSession(ctx context.Context, id string) {
	if cs := callFrom(ctx); cs != nil {
		cs.mu.Lock()
		cs.session = id
		cs.mu.Unlock()
	}
}

// Header reads a request header.
func Header(ctx context.Context, key string) (string, bool) {
	cs := callFrom(ctx)
	if cs == nil {
		return "", false
	}
	return cs.in.Get(key)
}

// SetHeader adds a response header.
func SetHeader(ctx context.Context, key, value string) {
	if cs := callFrom(ctx); cs != nil {
		cs.mu.Lock()
		cs.out.Set(key, value)
		cs.mu.Unlock()
	}
}

// Files returns the files sent with the request.
func Files(ctx context.Context) []protocol.File {
	if cs := callFrom(ctx); cs != nil {
		return cs.files
	}
	return nil
}

// AttachFiles adds files to the response.
func AttachFiles(ctx context.Context, files ...protocol.File) {
	if cs := callFrom(ctx); cs != nil {
		cs.mu.Lock()
		cs.attached = append(cs.attached, files...)
		cs.mu.Unlock()
	}
}
