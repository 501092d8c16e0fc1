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
	"errors"
	"testing"
)

func TestDispatcher_RoutesByFunctionCode(t *testing.T) {
	store := NewRegisterStore()
	store.SetDiscreteInput(0, true)
	store.SetInputRegister(0, 0x0102)
	d := NewDispatcher(Shared(store).Connect())

	tests := []struct {
		name string
		req  *Request
		want FunctionCode
	}{
		{"read coils", &Request{FunctionCode: FuncReadCoils, QuantityOrValue: 8}, FuncReadCoils},
		{"read discrete inputs", &Request{FunctionCode: FuncReadDiscreteInputs, QuantityOrValue: 1}, FuncReadDiscreteInputs},
		{"read holding registers", &Request{FunctionCode: FuncReadHoldingRegisters, QuantityOrValue: 2}, FuncReadHoldingRegisters},
		{"read input registers", &Request{FunctionCode: FuncReadInputRegisters, QuantityOrValue: 1}, FuncReadInputRegisters},
		{"write single coil", &Request{FunctionCode: FuncWriteSingleCoil, Address: 4, QuantityOrValue: CoilOn}, FuncWriteSingleCoil},
		{"write single register", &Request{FunctionCode: FuncWriteSingleRegister, Address: 4, QuantityOrValue: 99}, FuncWriteSingleRegister},
		{"write multiple coils", &Request{
			FunctionCode: FuncWriteMultipleCoils, Address: 8, QuantityOrValue: 3,
			Footer: &Footer{ByteCount: 1, Data: []byte{0x05}},
		}, FuncWriteMultipleCoils},
		{"write multiple registers", &Request{
			FunctionCode: FuncWriteMultipleRegisters, Address: 8, QuantityOrValue: 1,
			Footer: &Footer{ByteCount: 2, Data: []byte{0x00, 0x2A}},
		}, FuncWriteMultipleRegisters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := d.Dispatch(1, tt.req)
			if _, isEx := resp.(*ExceptionResponse); isEx {
				t.Fatalf("unexpected exception %+v", resp)
			}
			if resp.FunctionCode() != tt.want {
				t.Errorf("FunctionCode: expected %s, got %s", tt.want, resp.FunctionCode())
			}
		})
	}

	if got := store.ReadHoldingRegisters(4, 1).(*ReadRegistersResponse).Values[0]; got != 99 {
		t.Errorf("holding register 4: expected 99, got %d", got)
	}
	if got := store.ReadHoldingRegisters(8, 1).(*ReadRegistersResponse).Values[0]; got != 42 {
		t.Errorf("holding register 8: expected 42, got %d", got)
	}
	if got := store.ReadCoils(8, 3).(*ReadBitsResponse).Status[0]; got != 0x05 {
		t.Errorf("coils 8..10: expected 0x05, got 0x%02X", got)
	}
}

func TestDispatcher_IllegalFunction(t *testing.T) {
	d := NewDispatcher(Shared(nil).Connect())

	resp := d.Dispatch(1, &Request{FunctionCode: 0x2B, QuantityOrValue: 1})
	expectException(t, resp, 0x2B, ExceptionIllegalFunction)
}

func TestDispatcher_MissingFooter(t *testing.T) {
	d := NewDispatcher(Shared(nil).Connect())

	resp := d.Dispatch(1, &Request{FunctionCode: FuncWriteMultipleRegisters, QuantityOrValue: 1})
	expectException(t, resp, FuncWriteMultipleRegisters, ExceptionIllegalDataValue)
}

func TestDispatcher_UnknownUnit(t *testing.T) {
	d := NewDispatcher(PerUnit([]UnitID{1}, false).Connect())

	resp := d.Dispatch(7, &Request{FunctionCode: FuncReadHoldingRegisters, QuantityOrValue: 1})
	expectException(t, resp, FuncReadHoldingRegisters, ExceptionGatewayPathUnavailable)

	if _, isEx := d.Dispatch(1, &Request{FunctionCode: FuncReadHoldingRegisters, QuantityOrValue: 1}).(*ExceptionResponse); isEx {
		t.Error("unit 1 should be served")
	}
}

func TestDispatcher_LookupError(t *testing.T) {
	d := NewDispatcher(func(UnitID) (*RegisterStore, error) {
		return nil, errors.New("boom")
	})

	resp := d.Dispatch(0, &Request{FunctionCode: FuncWriteSingleCoil, QuantityOrValue: CoilOn})
	expectException(t, resp, FuncWriteSingleCoil, ExceptionGatewayPathUnavailable)
}

func TestDispatcher_ExceptionErr(t *testing.T) {
	d := NewDispatcher(Shared(nil).Connect())

	resp := d.Dispatch(1, &Request{FunctionCode: FuncReadCoils, Address: 65535, QuantityOrValue: 2})
	ex, ok := resp.(*ExceptionResponse)
	if !ok {
		t.Fatalf("expected exception, got %T", resp)
	}
	if !IsIllegalDataAddress(ex.Err()) {
		t.Errorf("expected illegal data address, got %v", ex.Err())
	}
	if ex.Err().FunctionCode != FuncReadCoils {
		t.Errorf("FunctionCode: expected %s, got %s", FuncReadCoils, ex.Err().FunctionCode)
	}
}
