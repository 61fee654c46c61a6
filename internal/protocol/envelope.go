package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/contractrpc/internal/protocol/frame"
	"github.com/danmuck/contractrpc/internal/status"
	"github.com/danmuck/contractrpc/internal/wire"
)

func EncodeRequest(c *wire.Codec, req *ContractRequest) ([]byte, error) {
	return c.Encode(req)
}

func DecodeRequest(c *wire.Codec, data []byte) (*ContractRequest, error) {
	var req *ContractRequest
	if err := decodeEnvelope(c, data, &req); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrEmptyEnvelope
	}
	return req, nil
}

func EncodeResponse(c *wire.Codec, resp *ContractResponse) ([]byte, error) {
	return c.Encode(resp)
}

func DecodeResponse(c *wire.Codec, data []byte) (*ContractResponse, error) {
	var resp *ContractResponse
	if err := decodeEnvelope(c, data, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrEmptyEnvelope
	}
	return resp, nil
}

func decodeEnvelope(c *wire.Codec, data []byte, out any) error {
	if len(data) == 0 {
		return ErrEmptyEnvelope
	}
	err := c.DecodeInto(data, out)
	if errors.Is(err, wire.ErrTypeMismatch) {
		return fmt.Errorf("%w: %v", ErrEnvelopeType, err)
	}
	return err
}

// WriteRequest frames req onto w.
func WriteRequest(w io.Writer, c *wire.Codec, req *ContractRequest, limits frame.Limits) error {
	payload, err := EncodeRequest(c, req)
	if err != nil {
		return err
	}
	return frame.WriteFrame(w, frame.Frame{
		Header:  frame.Header{MessageID: req.ID, MessageType: MessageRequest},
		Payload: payload,
	}, limits)
}

// WriteResponse frames resp onto w, flagging non-OK outcomes. When the
// results cannot be encoded the peer receives InternalServerError instead.
func WriteResponse(w io.Writer, c *wire.Codec, resp *ContractResponse, limits frame.Limits) error {
	payload, err := EncodeResponse(c, resp)
	if err != nil {
		failed := &ContractResponse{ID: resp.ID, Session: resp.Session}
		failed.Fail(fmt.Errorf("encode response: %w", err))
		if payload, err = EncodeResponse(c, failed); err != nil {
			return err
		}
		resp = failed
	}
	flags := frame.FlagIsResponse
	if resp.Status != status.OK {
		flags |= frame.FlagIsError
	}
	return frame.WriteFrame(w, frame.Frame{
		Header:  frame.Header{MessageID: resp.ID, MessageType: MessageResponse, Flags: flags},
		Payload: payload,
	}, limits)
}

// ReadRequest reads one framed request. io.EOF is returned unwrapped when
// the peer closed cleanly between frames.
func ReadRequest(r io.Reader, c *wire.Codec, limits frame.Limits) (*ContractRequest, error) {
	f, err := readFrameOf(r, MessageRequest, limits)
	if err != nil {
		return nil, err
	}
	return DecodeRequest(c, f.Payload)
}

func ReadResponse(r io.Reader, c *wire.Codec, limits frame.Limits) (*ContractResponse, error) {
	f, err := readFrameOf(r, MessageResponse, limits)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(c, f.Payload)
}

func readFrameOf(r io.Reader, msgType uint32, limits frame.Limits) (frame.Frame, error) {
	f, err := frame.ReadFrame(r, limits)
	if err != nil {
		return frame.Frame{}, err
	}
	if f.Header.MessageType != msgType {
		return frame.Frame{}, fmt.Errorf("%w: got %d want %d", ErrMessageTypeMismatch, f.Header.MessageType, msgType)
	}
	return f, nil
}
