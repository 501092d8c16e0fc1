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
	"strings"
	"sync"
)

// RegisterStore simulates the data model of one Modbus device: four banks
// of BankSize entries each, all zero on creation.
//
// Every operation validates quantity and address range before touching a
// bank and holds the store lock for its whole duration. Validation failures
// are returned as an *ExceptionResponse, never as a Go error.
type RegisterStore struct {
	mu sync.Mutex

	coils            [BankSize]bool
	discreteInputs   [BankSize]bool
	holdingRegisters [BankSize]uint16
	inputRegisters   [BankSize]uint16
}

// NewRegisterStore creates a store with every coil off and every register zero.
func NewRegisterStore() *RegisterStore {
	return &RegisterStore{}
}

// Clone returns an independent copy of the store.
func (s *RegisterStore) Clone() *RegisterStore {
	c := &RegisterStore{}
	s.mu.Lock()
	c.coils = s.coils
	c.discreteInputs = s.discreteInputs
	c.holdingRegisters = s.holdingRegisters
	c.inputRegisters = s.inputRegisters
	s.mu.Unlock()
	return c
}

// checkRange applies the quantity limit first and the bank bounds second.
func checkRange(fc FunctionCode, addr, qty uint16, max int) *ExceptionResponse {
	if qty < 1 || int(qty) > max {
		return newException(fc, ExceptionIllegalDataValue)
	}
	if int(addr)+int(qty) > BankSize {
		return newException(fc, ExceptionIllegalDataAddress)
	}
	return nil
}

// ReadCoils reads qty coils starting at addr (FC01).
func (s *RegisterStore) ReadCoils(addr, qty uint16) Response {
	return s.readBits(FuncReadCoils, &s.coils, addr, qty, MaxQuantityCoils)
}

// ReadDiscreteInputs reads qty discrete inputs starting at addr (FC02).
func (s *RegisterStore) ReadDiscreteInputs(addr, qty uint16) Response {
	return s.readBits(FuncReadDiscreteInputs, &s.discreteInputs, addr, qty, MaxQuantityDiscreteInputs)
}

// ReadHoldingRegisters reads qty holding registers starting at addr (FC03).
func (s *RegisterStore) ReadHoldingRegisters(addr, qty uint16) Response {
	return s.readRegisters(FuncReadHoldingRegisters, &s.holdingRegisters, addr, qty)
}

// ReadInputRegisters reads qty input registers starting at addr (FC04).
func (s *RegisterStore) ReadInputRegisters(addr, qty uint16) Response {
	return s.readRegisters(FuncReadInputRegisters, &s.inputRegisters, addr, qty)
}

func (s *RegisterStore) readBits(fc FunctionCode, bank *[BankSize]bool, addr, qty uint16, max int) Response {
	if ex := checkRange(fc, addr, qty, max); ex != nil {
		return ex
	}

	s.mu.Lock()
	status := PackBits(bank[addr : int(addr)+int(qty)])
	s.mu.Unlock()

	return &ReadBitsResponse{Code: fc, ByteCount: uint8(len(status)), Status: status}
}

func (s *RegisterStore) readRegisters(fc FunctionCode, bank *[BankSize]uint16, addr, qty uint16) Response {
	if ex := checkRange(fc, addr, qty, MaxQuantityRegisters); ex != nil {
		return ex
	}

	values := make([]uint16, qty)
	s.mu.Lock()
	copy(values, bank[addr:int(addr)+int(qty)])
	s.mu.Unlock()

	return &ReadRegistersResponse{Code: fc, ByteCount: uint8(2 * qty), Values: values}
}

// WriteSingleCoil sets one coil (FC05). Only CoilOn and CoilOff are
// accepted; any other value leaves the coil unchanged.
func (s *RegisterStore) WriteSingleCoil(addr, value uint16) Response {
	var on bool
	switch value {
	case CoilOn:
		on = true
	case CoilOff:
	default:
		return newException(FuncWriteSingleCoil, ExceptionIllegalDataValue)
	}

	s.mu.Lock()
	s.coils[addr] = on
	s.mu.Unlock()

	return &WriteSingleResponse{Code: FuncWriteSingleCoil, Address: addr, Value: value}
}

// WriteSingleRegister sets one holding register (FC06).
func (s *RegisterStore) WriteSingleRegister(addr, value uint16) Response {
	s.mu.Lock()
	s.holdingRegisters[addr] = value
	s.mu.Unlock()

	return &WriteSingleResponse{Code: FuncWriteSingleRegister, Address: addr, Value: value}
}

// WriteMultipleCoils writes qty coils from LSB-first packed bytes (FC15).
func (s *RegisterStore) WriteMultipleCoils(addr, qty uint16, packed []byte) Response {
	const fc = FuncWriteMultipleCoils
	if qty < 1 || qty > MaxQuantityWriteCoils || len(packed) != (int(qty)+7)/8 {
		return newException(fc, ExceptionIllegalDataValue)
	}
	if ex := checkRange(fc, addr, qty, MaxQuantityWriteCoils); ex != nil {
		return ex
	}

	values := UnpackBits(packed, int(qty))
	s.mu.Lock()
	copy(s.coils[addr:], values)
	s.mu.Unlock()

	return &WriteMultipleResponse{Code: fc, Address: addr, Quantity: qty}
}

// WriteMultipleRegisters writes qty holding registers from big-endian
// words (FC16).
func (s *RegisterStore) WriteMultipleRegisters(addr, qty uint16, raw []byte) Response {
	const fc = FuncWriteMultipleRegisters
	if qty < 1 || qty > MaxQuantityWriteRegisters || len(raw) != 2*int(qty) {
		return newException(fc, ExceptionIllegalDataValue)
	}
	if ex := checkRange(fc, addr, qty, MaxQuantityWriteRegisters); ex != nil {
		return ex
	}

	s.mu.Lock()
	for i := 0; i < int(qty); i++ {
		s.holdingRegisters[int(addr)+i] = binary.BigEndian.Uint16(raw[i*2:])
	}
	s.mu.Unlock()

	return &WriteMultipleResponse{Code: fc, Address: addr, Quantity: qty}
}

// SetCoil sets a coil value directly.
func (s *RegisterStore) SetCoil(addr uint16, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coils[addr] = value
}

// SetDiscreteInput sets a discrete input value directly. Discrete inputs
// are read-only to clients.
func (s *RegisterStore) SetDiscreteInput(addr uint16, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discreteInputs[addr] = value
}

// SetHoldingRegister sets a holding register value directly.
func (s *RegisterStore) SetHoldingRegister(addr, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdingRegisters[addr] = value
}

// SetInputRegister sets an input register value directly. Input registers
// are read-only to clients.
func (s *RegisterStore) SetInputRegister(addr, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputRegisters[addr] = value
}

// Seed writes consecutive values into table starting at addr. For the two
// bit tables any non-zero value is on.
func (s *RegisterStore) Seed(table Table, addr uint16, values []uint16) error {
	if int(addr)+len(values) > BankSize {
		return fmt.Errorf("%w: %d values at %d overflow the %s table",
			ErrInvalidAddress, len(values), addr, table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range values {
		a := int(addr) + i
		switch table {
		case TableCoils:
			s.coils[a] = v != 0
		case TableDiscreteInputs:
			s.discreteInputs[a] = v != 0
		case TableHoldingRegisters:
			s.holdingRegisters[a] = v
		case TableInputRegisters:
			s.inputRegisters[a] = v
		default:
			return fmt.Errorf("modbus: unknown table %d", int(table))
		}
	}
	return nil
}

// ParseTable maps a configuration name to a Table.
func ParseTable(name string) (Table, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "coils", "coil", "c":
		return TableCoils, nil
	case "discrete", "discrete-inputs", "di":
		return TableDiscreteInputs, nil
	case "holding", "holding-registers", "hr":
		return TableHoldingRegisters, nil
	case "input", "input-registers", "ir":
		return TableInputRegisters, nil
	default:
		return 0, fmt.Errorf("modbus: unknown table %q", name)
	}
}
