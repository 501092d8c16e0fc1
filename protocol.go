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

// MBAPHeader represents the Modbus Application Protocol header for TCP.
type MBAPHeader struct {
	TransactionID uint16 // Transaction identifier
	ProtocolID    uint16 // Protocol identifier (always 0 for Modbus)
	Length        uint16 // Number of following bytes (Unit ID + PDU)
	UnitID        UnitID // Unit identifier (slave address)
}

// Encode encodes the MBAP header to bytes.
func (h *MBAPHeader) Encode() []byte {
	buf := make([]byte, MBAPHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = byte(h.UnitID)
	return buf
}

// Decode decodes the MBAP header from bytes.
func (h *MBAPHeader) Decode(data []byte) error {
	if len(data) < MBAPHeaderSize {
		return fmt.Errorf("%w: MBAP header too short", ErrInvalidFrame)
	}
	h.TransactionID = binary.BigEndian.Uint16(data[0:2])
	h.ProtocolID = binary.BigEndian.Uint16(data[2:4])
	h.Length = binary.BigEndian.Uint16(data[4:6])
	h.UnitID = UnitID(data[6])
	return nil
}

// Frame represents a complete Modbus TCP frame (MBAP header + PDU).
type Frame struct {
	Header MBAPHeader
	PDU    []byte
}

// Encode encodes the frame to bytes. The header length is recomputed from
// the PDU.
func (f *Frame) Encode() []byte {
	f.Header.Length = uint16(len(f.PDU) + 1) // PDU length + Unit ID
	header := f.Header.Encode()
	buf := make([]byte, MBAPHeaderSize+len(f.PDU))
	copy(buf, header)
	copy(buf[MBAPHeaderSize:], f.PDU)
	return buf
}

// Footer is the trailing part of the two "write multiple" requests.
type Footer struct {
	ByteCount uint8
	Data      []byte
}

// Request is a decoded request PDU.
//
// QuantityOrValue is overloaded by the wire format: it is the quantity for
// reads and multiple writes and the value for single writes. Footer is set
// if and only if the function code is WriteMultipleCoils or
// WriteMultipleRegisters.
type Request struct {
	FunctionCode    FunctionCode
	Address         uint16
	QuantityOrValue uint16
	Footer          *Footer
}

// Quantity returns the quantity of a read or multiple-write request.
func (r *Request) Quantity() uint16 {
	return r.QuantityOrValue
}

// Value returns the value of a single-write request.
func (r *Request) Value() uint16 {
	return r.QuantityOrValue
}

// Encode encodes the request PDU.
func (r *Request) Encode() []byte {
	size := 5
	if r.Footer != nil {
		size += 1 + len(r.Footer.Data)
	}
	pdu := make([]byte, size)
	pdu[0] = byte(r.FunctionCode)
	binary.BigEndian.PutUint16(pdu[1:3], r.Address)
	binary.BigEndian.PutUint16(pdu[3:5], r.QuantityOrValue)
	if r.Footer != nil {
		pdu[5] = r.Footer.ByteCount
		copy(pdu[6:], r.Footer.Data)
	}
	return pdu
}

// DecodeRequest decodes exactly one request ADU into its header and PDU.
// Decoding fails with ErrInvalidFrame when the protocol id is not zero, the
// function code is unknown, or the buffer length differs from what the
// function code demands. The MBAP Length field is not consulted.
func DecodeRequest(adu []byte) (MBAPHeader, *Request, error) {
	var h MBAPHeader
	if err := h.Decode(adu); err != nil {
		return h, nil, err
	}
	if h.ProtocolID != ProtocolID {
		return h, nil, fmt.Errorf("%w: %w %d", ErrInvalidFrame, ErrInvalidProtocol, h.ProtocolID)
	}

	pdu := adu[MBAPHeaderSize:]
	if len(pdu) < 1 {
		return h, nil, fmt.Errorf("%w: missing function code", ErrInvalidFrame)
	}
	fc := FunctionCode(pdu[0])
	if !fc.Valid() {
		return h, nil, fmt.Errorf("%w: %w 0x%02X", ErrInvalidFrame, ErrUnknownFunction, uint8(fc))
	}
	if len(pdu) < 5 {
		return h, nil, fmt.Errorf("%w: %s request too short", ErrInvalidFrame, fc)
	}

	req := &Request{
		FunctionCode:    fc,
		Address:         binary.BigEndian.Uint16(pdu[1:3]),
		QuantityOrValue: binary.BigEndian.Uint16(pdu[3:5]),
	}
	size := 5
	if fc.HasFooter() {
		if len(pdu) < 6 {
			return h, nil, fmt.Errorf("%w: %s request missing byte count", ErrInvalidFrame, fc)
		}
		byteCount := int(pdu[5])
		if len(pdu) < 6+byteCount {
			return h, nil, fmt.Errorf("%w: %s payload has %d of %d bytes",
				ErrInvalidFrame, fc, len(pdu)-6, byteCount)
		}
		data := make([]byte, byteCount)
		copy(data, pdu[6:6+byteCount])
		req.Footer = &Footer{ByteCount: uint8(byteCount), Data: data}
		size = 6 + byteCount
	}
	if len(pdu) > size {
		return h, nil, fmt.Errorf("%w: %d trailing bytes after %s request",
			ErrInvalidFrame, len(pdu)-size, fc)
	}
	return h, req, nil
}

// EncodeRequest encodes a request ADU. The header length is recomputed.
func EncodeRequest(h MBAPHeader, req *Request) []byte {
	f := Frame{Header: h, PDU: req.Encode()}
	return f.Encode()
}

// Response is a response PDU produced by a register store.
type Response interface {
	FunctionCode() FunctionCode
	Encode() []byte
}

// EncodeResponse encodes a response ADU. The transaction id, protocol id and
// unit id are taken from h; the length is recomputed for the response PDU.
func EncodeResponse(h MBAPHeader, resp Response) []byte {
	f := Frame{Header: h, PDU: resp.Encode()}
	return f.Encode()
}

// ReadBitsResponse answers ReadCoils and ReadDiscreteInputs.
type ReadBitsResponse struct {
	Code      FunctionCode
	ByteCount uint8
	Status    []byte // packed, first addressed bit in the LSB of Status[0]
}

// FunctionCode returns the function code carried in the response.
func (r *ReadBitsResponse) FunctionCode() FunctionCode {
	return r.Code
}

// Encode encodes the read response PDU.
func (r *ReadBitsResponse) Encode() []byte {
	pdu := make([]byte, 2+len(r.Status))
	pdu[0] = byte(r.Code)
	pdu[1] = r.ByteCount
	copy(pdu[2:], r.Status)
	return pdu
}

// Bits unpacks the first qty bits of the response.
func (r *ReadBitsResponse) Bits(qty int) []bool {
	return UnpackBits(r.Status, qty)
}

// ReadRegistersResponse answers ReadHoldingRegisters and ReadInputRegisters.
type ReadRegistersResponse struct {
	Code      FunctionCode
	ByteCount uint8
	Values    []uint16
}

// FunctionCode returns the function code carried in the response.
func (r *ReadRegistersResponse) FunctionCode() FunctionCode {
	return r.Code
}

// Encode encodes the read response PDU.
func (r *ReadRegistersResponse) Encode() []byte {
	pdu := make([]byte, 2+2*len(r.Values))
	pdu[0] = byte(r.Code)
	pdu[1] = r.ByteCount
	for i, v := range r.Values {
		binary.BigEndian.PutUint16(pdu[2+i*2:], v)
	}
	return pdu
}

// WriteSingleResponse answers WriteSingleCoil and WriteSingleRegister.
type WriteSingleResponse struct {
	Code    FunctionCode
	Address uint16
	Value   uint16
}

// FunctionCode returns the function code carried in the response.
func (r *WriteSingleResponse) FunctionCode() FunctionCode {
	return r.Code
}

// Encode encodes the write response PDU.
func (r *WriteSingleResponse) Encode() []byte {
	return encodeAddressPair(r.Code, r.Address, r.Value)
}

// WriteMultipleResponse answers WriteMultipleCoils and WriteMultipleRegisters.
type WriteMultipleResponse struct {
	Code     FunctionCode
	Address  uint16
	Quantity uint16
}

// FunctionCode returns the function code carried in the response.
func (r *WriteMultipleResponse) FunctionCode() FunctionCode {
	return r.Code
}

// Encode encodes the write response PDU.
func (r *WriteMultipleResponse) Encode() []byte {
	return encodeAddressPair(r.Code, r.Address, r.Quantity)
}

// ExceptionResponse is the error variant. Code is the request function code
// with the 0x80 bit set.
type ExceptionResponse struct {
	Code          FunctionCode
	ExceptionCode ExceptionCode
}

func newException(fc FunctionCode, ec ExceptionCode) *ExceptionResponse {
	return &ExceptionResponse{Code: fc | exceptionBit, ExceptionCode: ec}
}

// FunctionCode returns the function code carried in the response.
func (r *ExceptionResponse) FunctionCode() FunctionCode {
	return r.Code
}

// Encode encodes the exception response PDU.
func (r *ExceptionResponse) Encode() []byte {
	return []byte{byte(r.Code), byte(r.ExceptionCode)}
}

// Err converts the exception into a *ModbusError carrying the original
// function code.
func (r *ExceptionResponse) Err() *ModbusError {
	return NewModbusError(r.Code&^exceptionBit, r.ExceptionCode)
}

// IsExceptionResponse checks if the PDU is an exception response.
func IsExceptionResponse(pdu []byte) bool {
	return len(pdu) > 0 && (pdu[0]&exceptionBit) != 0
}

func encodeAddressPair(fc FunctionCode, addr, v uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = byte(fc)
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], v)
	return pdu
}

// PackBits packs bools LSB-first: values[i] lands in byte i/8, bit i%8.
func PackBits(values []bool) []byte {
	out := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// UnpackBits is the inverse of PackBits for the first qty bits of data.
func UnpackBits(data []byte, qty int) []bool {
	values := make([]bool, qty)
	for i := 0; i < qty && i/8 < len(data); i++ {
		values[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return values
}
