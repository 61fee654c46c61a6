package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/contractrpc/internal/protocol/frame"
	"github.com/danmuck/contractrpc/internal/status"
	"github.com/danmuck/contractrpc/internal/testutil/testlog"
	"github.com/danmuck/contractrpc/internal/wire"
)

func TestRequestFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	c := wire.Default
	headers := wire.NewFoldMap()
	headers.Set("X-Tenant", "acme")
	in := &ContractRequest{
		ID:         7,
		Contract:   "Calculator",
		Method:     2,
		MethodName: "Divide",
		Params:     []any{17, 5, "note", nil},
		Session:    "s-1",
		Headers:    headers,
		Files:      []File{{Name: "a.txt", ContentType: "text/plain", Data: []byte("hi")}},
	}
	var buf bytes.Buffer
	if err := WriteRequest(&buf, c, in, frame.DefaultLimits()); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadRequest(&buf, c, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.ID != 7 || out.Contract != "Calculator" || out.Method != 2 || out.Session != "s-1" {
		t.Fatalf("envelope mismatch: %+v", out)
	}
	if len(out.Params) != 4 || out.Params[0] != 17 || out.Params[2] != "note" || out.Params[3] != nil {
		t.Fatalf("params = %#v", out.Params)
	}
	if v, _ := out.Headers.Get("x-tenant"); v != "acme" {
		t.Fatalf("header = %q", v)
	}
	if len(out.Files) != 1 || string(out.Files[0].Data) != "hi" {
		t.Fatalf("files = %+v", out.Files)
	}
}

func TestResponseCarriesStatus(t *testing.T) {
	testlog.Start(t)
	c := wire.Default
	resp := NewResponse(&ContractRequest{ID: 9, Session: "s"}).Fail(status.NewError(status.NotFound, "gone"))
	var buf bytes.Buffer
	if err := WriteResponse(&buf, c, resp, frame.DefaultLimits()); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw := buf.Bytes()
	h, err := frame.DecodeHeader(raw[:frame.FixedHeaderLen])
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Flags&frame.FlagIsError == 0 || h.MessageID != 9 {
		t.Fatalf("header = %+v", h)
	}
	out, err := ReadResponse(&buf, c, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !errors.Is(out.Err(), status.ErrNotFound) || out.Message != "gone" || out.Session != "s" {
		t.Fatalf("response = %+v", out)
	}
	if out.Value() != nil {
		t.Fatalf("failed response should carry no value")
	}
}

func TestReadRejectsWrongMessageType(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteRequest(&buf, wire.Default, &ContractRequest{ID: 1}, frame.DefaultLimits()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadResponse(&buf, wire.Default, frame.DefaultLimits()); !errors.Is(err, ErrMessageTypeMismatch) {
		t.Fatalf("expected ErrMessageTypeMismatch, got %v", err)
	}
}

func TestDecodeRejectsForeignPayloads(t *testing.T) {
	testlog.Start(t)
	data, err := wire.Default.Encode(42)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeRequest(wire.Default, data); !errors.Is(err, ErrEnvelopeType) {
		t.Fatalf("expected ErrEnvelopeType, got %v", err)
	}
	if _, err := DecodeResponse(wire.Default, nil); !errors.Is(err, ErrEmptyEnvelope) {
		t.Fatalf("expected ErrEmptyEnvelope, got %v", err)
	}
	null, _ := wire.Default.Encode(nil)
	if _, err := DecodeResponse(wire.Default, null); !errors.Is(err, ErrEmptyEnvelope) {
		t.Fatalf("expected ErrEmptyEnvelope for null, got %v", err)
	}
}
