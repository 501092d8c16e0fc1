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

func TestSharedPolicy(t *testing.T) {
	p := Shared(nil)
	if p.Store() == nil {
		t.Fatal("Shared(nil) should create a store")
	}

	a, _ := p.Connect()(1)
	b, _ := p.Connect()(200)
	if a != b || a != p.Store() {
		t.Error("every connection and unit should see the same store")
	}
}

func TestPerConnectionPolicy(t *testing.T) {
	template := NewRegisterStore()
	template.SetHoldingRegister(0, 5)
	p := PerConnection(template)

	first, _ := p.Connect()(1)
	second, _ := p.Connect()(1)
	if first == second {
		t.Fatal("connections should not share a store")
	}

	first.WriteSingleRegister(0, 6)
	if got := readHolding(t, second, 0, 1)[0]; got != 5 {
		t.Errorf("second connection: expected 5, got %d", got)
	}
	if got := readHolding(t, template, 0, 1)[0]; got != 5 {
		t.Errorf("template: expected 5, got %d", got)
	}
}

func TestPerConnectionPolicy_SameStoreForEveryUnit(t *testing.T) {
	lookup := PerConnection(nil).Connect()

	a, _ := lookup(1)
	b, _ := lookup(2)
	if a == nil || a != b {
		t.Error("one connection should use one store for every unit")
	}
}

func TestPerUnitPolicy(t *testing.T) {
	p := PerUnit([]UnitID{3, 1}, false)

	one, err := p.Store(1)
	if err != nil {
		t.Fatalf("Store(1) failed: %v", err)
	}
	three, err := p.Store(3)
	if err != nil {
		t.Fatalf("Store(3) failed: %v", err)
	}
	if one == three {
		t.Error("units should not share a store")
	}

	again, _ := p.Connect()(1)
	if again != one {
		t.Error("connections should share the store of a unit")
	}

	_, err = p.Store(2)
	if !errors.Is(err, ErrUnknownUnit) {
		t.Errorf("Expected ErrUnknownUnit, got %v", err)
	}

	units := p.Units()
	if len(units) != 2 || units[0] != 1 || units[1] != 3 {
		t.Errorf("Units: expected [1 3], got %v", units)
	}
}

func TestPerUnitPolicy_AutoProvision(t *testing.T) {
	p := PerUnit(nil, true)

	s, err := p.Store(42)
	if err != nil {
		t.Fatalf("Store(42) failed: %v", err)
	}
	again, _ := p.Store(42)
	if s != again {
		t.Error("provisioned store should be reused")
	}
	if units := p.Units(); len(units) != 1 || units[0] != 42 {
		t.Errorf("Units: expected [42], got %v", units)
	}
}
