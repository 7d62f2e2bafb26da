package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
)

// MaxFrameSize bounds a single request/response frame, guarding against a
// misbehaving client claiming an unbounded length prefix.
const MaxFrameSize = 16 * 1024 * 1024

var ErrFrameTooLarge = errors.New("ipc: frame exceeds MaxFrameSize")

// readFrame reads one u32-length-prefixed frame from r, grounded on the
// docdb/internal/ipc's readFrame.
func readFrame(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(lenBuf)
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeFrame writes one u32-length-prefixed frame to w.
func writeFrame(w io.Writer, data []byte) error {
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(data)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readRequest(r io.Reader) (Request, error) {
	raw, err := readFrame(r)
	if err != nil {
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, err
	}
	return req, nil
}

func writeResponse(w io.Writer, resp Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return writeFrame(w, raw)
}

func writeRequest(w io.Writer, req Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return writeFrame(w, raw)
}

func readResponse(r io.Reader) (Response, error) {
	raw, err := readFrame(r)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}
