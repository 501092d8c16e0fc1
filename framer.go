// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"encoding/binary"
	"fmt"
)

// FrameLength reports how many bytes at the front of buf form one complete
// request ADU. It returns 0 with a nil error when more bytes are needed.
//
// The length is derived from the function code rather than the MBAP length
// field: requests for 0x0F and 0x10 occupy 13 bytes plus the byte count at
// offset 12, every other supported request occupies exactly 12 bytes. An
// unknown function code or a non-zero protocol id is a framing error, after
// which the stream can no longer be trusted. A bad protocol id is reported
// as soon as it is buffered, a bad function code once 12 bytes are.
func FrameLength(buf []byte) (int, error) {
	if len(buf) >= 4 {
		if pid := binary.BigEndian.Uint16(buf[2:4]); pid != ProtocolID {
			return 0, fmt.Errorf("%w: %w %d", ErrInvalidFrame, ErrInvalidProtocol, pid)
		}
	}
	if len(buf) < MinRequestSize {
		return 0, nil
	}

	fc := FunctionCode(buf[MBAPHeaderSize])
	if !fc.Valid() {
		return 0, fmt.Errorf("%w: %w 0x%02X", ErrInvalidFrame, ErrUnknownFunction, uint8(fc))
	}

	n := MinRequestSize
	if fc.HasFooter() {
		if len(buf) <= MinRequestSize {
			return 0, nil
		}
		n = MinRequestSize + 1 + int(buf[MinRequestSize])
	}
	if len(buf) < n {
		return 0, nil
	}
	return n, nil
}

// Reassembler accumulates bytes read from one connection and splits them
// into request ADUs. A single chunk may hold several ADUs and an ADU may
// span several chunks. It is not safe for concurrent use.
type Reassembler struct {
	buf []byte
}

// Feed appends a chunk read from the transport.
func (r *Reassembler) Feed(p []byte) {
	r.buf = append(r.buf, p...)
}

// Next removes and returns the next complete ADU. It returns nil, nil when
// the buffered bytes do not yet hold a complete ADU.
func (r *Reassembler) Next() ([]byte, error) {
	n, err := FrameLength(r.buf)
	if err != nil || n == 0 {
		return nil, err
	}
	adu := make([]byte, n)
	copy(adu, r.buf[:n])
	r.buf = r.buf[:copy(r.buf, r.buf[n:])]
	return adu, nil
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Reset drops any partial frame.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
}
