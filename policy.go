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
	"fmt"
	"sort"
	"sync"
)

// StoreLookup resolves the register store that serves a unit id.
type StoreLookup func(unit UnitID) (*RegisterStore, error)

// StorePolicy decides how register stores are shared between connections
// and unit ids. Connect is called once per accepted connection and the
// returned lookup is used for every request on that connection.
type StorePolicy interface {
	Connect() StoreLookup
}

// SharedPolicy serves every unit id on every connection from one store.
type SharedPolicy struct {
	store *RegisterStore
}

// Shared returns a policy backed by store. A nil store is replaced with a
// fresh one.
func Shared(store *RegisterStore) *SharedPolicy {
	if store == nil {
		store = NewRegisterStore()
	}
	return &SharedPolicy{store: store}
}

// Store returns the shared store.
func (p *SharedPolicy) Store() *RegisterStore {
	return p.store
}

func (p *SharedPolicy) Connect() StoreLookup {
	return func(UnitID) (*RegisterStore, error) {
		return p.store, nil
	}
}

// PerConnectionPolicy gives each connection a private store, visible to no
// other connection and dropped when the connection closes.
type PerConnectionPolicy struct {
	template *RegisterStore
}

// PerConnection returns a policy that starts every connection from a copy
// of template, or from an all-zero store when template is nil.
func PerConnection(template *RegisterStore) *PerConnectionPolicy {
	return &PerConnectionPolicy{template: template}
}

func (p *PerConnectionPolicy) Connect() StoreLookup {
	var store *RegisterStore
	if p.template != nil {
		store = p.template.Clone()
	} else {
		store = NewRegisterStore()
	}
	return func(UnitID) (*RegisterStore, error) {
		return store, nil
	}
}

// PerUnitPolicy keeps one store per unit id, shared by all connections.
// Requests for a unit without a store fail with ErrUnknownUnit unless
// auto-provisioning is on.
type PerUnitPolicy struct {
	mu            sync.Mutex
	stores        map[UnitID]*RegisterStore
	autoProvision bool
}

// PerUnit returns a policy with a fresh store for each of units.
func PerUnit(units []UnitID, autoProvision bool) *PerUnitPolicy {
	p := &PerUnitPolicy{
		stores:        make(map[UnitID]*RegisterStore, len(units)),
		autoProvision: autoProvision,
	}
	for _, u := range units {
		p.stores[u] = NewRegisterStore()
	}
	return p
}

// Store returns the store for unit, creating it when auto-provisioning is on.
func (p *PerUnitPolicy) Store(unit UnitID) (*RegisterStore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.stores[unit]; ok {
		return s, nil
	}
	if !p.autoProvision {
		return nil, fmt.Errorf("%w: %d", ErrUnknownUnit, unit)
	}
	s := NewRegisterStore()
	p.stores[unit] = s
	return s, nil
}

// Units returns the provisioned unit ids in ascending order.
func (p *PerUnitPolicy) Units() []UnitID {
	p.mu.Lock()
	defer p.mu.Unlock()

	units := make([]UnitID, 0, len(p.stores))
	for u := range p.stores {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })
	return units
}

func (p *PerUnitPolicy) Connect() StoreLookup {
	return p.Store
}
