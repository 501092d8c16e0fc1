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
	"bytes"
	"errors"
	"testing"
)

var (
	readCoilsADU = []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x01, 0x00, 0x00, 0x00, 0x08}
	writeRegsADU = []byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x0B, 0x01, 0x10, 0x00, 0x00, 0x00, 0x02, 0x04, 0x00, 0x01, 0x00, 0x02}
)

func TestFrameLength(t *testing.T) {
	tests := []struct {
		name     string
		buf      []byte
		expected int
	}{
		{"empty", nil, 0},
		{"header only", readCoilsADU[:7], 0},
		{"one short of fixed frame", readCoilsADU[:11], 0},
		{"fixed frame", readCoilsADU, 12},
		{"fixed frame with trailing bytes", append(append([]byte{}, readCoilsADU...), 0x00, 0x03), 12},
		{"multi write without byte count", writeRegsADU[:12], 0},
		{"multi write partial payload", writeRegsADU[:16], 0},
		{"multi write complete", writeRegsADU, 17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := FrameLength(tt.buf)
			if err != nil {
				t.Fatalf("FrameLength failed: %v", err)
			}
			if n != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, n)
			}
		})
	}
}

func TestFrameLength_EveryFixedFunction(t *testing.T) {
	for _, fc := range []FunctionCode{
		FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters,
		FuncReadInputRegisters, FuncWriteSingleCoil, FuncWriteSingleRegister,
	} {
		buf := append([]byte{}, readCoilsADU...)
		buf[7] = byte(fc)
		if n, err := FrameLength(buf); err != nil || n != 12 {
			t.Errorf("%s: expected 12, got %d (%v)", fc, n, err)
		}
	}
}

func TestFrameLength_UnknownFunction(t *testing.T) {
	buf := append([]byte{}, readCoilsADU...)
	buf[7] = 0x2B

	_, err := FrameLength(buf)
	if !errors.Is(err, ErrInvalidFrame) || !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("Expected unknown function framing error, got %v", err)
	}
}

func TestFrameLength_ProtocolID(t *testing.T) {
	// Rejected as soon as the protocol id is visible.
	_, err := FrameLength([]byte{0x00, 0x01, 0x00, 0x01})
	if !errors.Is(err, ErrInvalidProtocol) {
		t.Errorf("Expected ErrInvalidProtocol, got %v", err)
	}
}

func TestReassembler_ByteAtATime(t *testing.T) {
	var r Reassembler

	stream := append(append([]byte{}, writeRegsADU...), readCoilsADU...)
	var frames [][]byte
	for _, b := range stream {
		r.Feed([]byte{b})
		for {
			adu, err := r.Next()
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			if adu == nil {
				break
			}
			frames = append(frames, adu)
		}
	}

	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], writeRegsADU) {
		t.Errorf("frame 0: expected %x, got %x", writeRegsADU, frames[0])
	}
	if !bytes.Equal(frames[1], readCoilsADU) {
		t.Errorf("frame 1: expected %x, got %x", readCoilsADU, frames[1])
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered: expected 0, got %d", r.Buffered())
	}
}

func TestReassembler_Pipelined(t *testing.T) {
	var r Reassembler

	chunk := append(append(append([]byte{}, readCoilsADU...), writeRegsADU...), readCoilsADU[:5]...)
	r.Feed(chunk)

	first, err := r.Next()
	if err != nil || !bytes.Equal(first, readCoilsADU) {
		t.Fatalf("first: got %x, %v", first, err)
	}
	second, err := r.Next()
	if err != nil || !bytes.Equal(second, writeRegsADU) {
		t.Fatalf("second: got %x, %v", second, err)
	}
	third, err := r.Next()
	if err != nil || third != nil {
		t.Fatalf("third: expected incomplete, got %x, %v", third, err)
	}
	if r.Buffered() != 5 {
		t.Errorf("Buffered: expected 5, got %d", r.Buffered())
	}

	r.Feed(readCoilsADU[5:])
	third, err = r.Next()
	if err != nil || !bytes.Equal(third, readCoilsADU) {
		t.Fatalf("third: got %x, %v", third, err)
	}
}

func TestReassembler_FramesAreIndependentCopies(t *testing.T) {
	var r Reassembler
	r.Feed(readCoilsADU)
	r.Feed(readCoilsADU)

	first, _ := r.Next()
	second, _ := r.Next()
	first[0] = 0xFF
	if second[0] != readCoilsADU[0] {
		t.Error("frames should not share memory")
	}
}

func TestReassembler_UnknownFunctionNotStuck(t *testing.T) {
	var r Reassembler
	buf := append([]byte{}, readCoilsADU...)
	buf[7] = 0x63
	r.Feed(buf)

	if _, err := r.Next(); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("Expected ErrUnknownFunction, got %v", err)
	}

	r.Reset()
	if r.Buffered() != 0 {
		t.Errorf("Buffered after Reset: expected 0, got %d", r.Buffered())
	}
}
