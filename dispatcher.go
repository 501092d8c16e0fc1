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

// Dispatcher routes decoded requests to the register store operation for
// their function code. It holds no per-request state.
type Dispatcher struct {
	lookup StoreLookup
}

// NewDispatcher creates a dispatcher that resolves stores with lookup.
func NewDispatcher(lookup StoreLookup) *Dispatcher {
	return &Dispatcher{lookup: lookup}
}

// Dispatch applies req to the store serving unit. Validation failures and
// unknown units come back as an *ExceptionResponse.
func (d *Dispatcher) Dispatch(unit UnitID, req *Request) Response {
	store, err := d.lookup(unit)
	if err != nil {
		return newException(req.FunctionCode, ExceptionGatewayPathUnavailable)
	}

	switch req.FunctionCode {
	case FuncReadCoils:
		return store.ReadCoils(req.Address, req.Quantity())
	case FuncReadDiscreteInputs:
		return store.ReadDiscreteInputs(req.Address, req.Quantity())
	case FuncReadHoldingRegisters:
		return store.ReadHoldingRegisters(req.Address, req.Quantity())
	case FuncReadInputRegisters:
		return store.ReadInputRegisters(req.Address, req.Quantity())
	case FuncWriteSingleCoil:
		return store.WriteSingleCoil(req.Address, req.Value())
	case FuncWriteSingleRegister:
		return store.WriteSingleRegister(req.Address, req.Value())
	case FuncWriteMultipleCoils:
		if req.Footer == nil {
			return newException(req.FunctionCode, ExceptionIllegalDataValue)
		}
		return store.WriteMultipleCoils(req.Address, req.Quantity(), req.Footer.Data)
	case FuncWriteMultipleRegisters:
		if req.Footer == nil {
			return newException(req.FunctionCode, ExceptionIllegalDataValue)
		}
		return store.WriteMultipleRegisters(req.Address, req.Quantity(), req.Footer.Data)
	default:
		return newException(req.FunctionCode, ExceptionIllegalFunction)
	}
}
