// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcrals

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Components selects the components a constraint applies to.
// The zero value selects none.
type Components struct {
	all bool
	idx []int
}

// AllComponents selects every component of the fit.
func AllComponents() Components {
	return Components{all: true}
}

// Select selects the listed component indices.
func Select(idx ...int) Components {
	return Components{idx: slices.Clone(idx)}
}

// All reports whether every component is selected.
func (c Components) All() bool { return c.all }

// None reports whether no component is selected.
func (c Components) None() bool { return !c.all && len(c.idx) == 0 }

// Indices returns the explicit indices, nil when All is set.
func (c Components) Indices() []int { return slices.Clone(c.idx) }

func (c Components) String() string {
	if c.all {
		return "all"
	}
	return fmt.Sprint(c.idx)
}

// check rejects negative indices, which are invalid whatever the number of components.
func (c Components) check(param string) error {
	for _, j := range c.idx {
		if j < 0 {
			return configErr(param, c, "component index %d is negative", j)
		}
	}
	return nil
}

// resolve expands the selection for n components into sorted distinct indices.
func (c Components) resolve(param string, n int) ([]int, error) {
	if c.all {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}
	idx := slices.Clone(c.idx)
	slices.Sort(idx)
	idx = slices.Compact(idx)
	for _, j := range idx {
		if j < 0 || j >= n {
			return nil, configErr(param, c, "component index %d outside [0, %d)", j, n)
		}
	}
	return idx, nil
}

// ordered expands the selection for n components keeping the listed order.
// Repeated indices are rejected, each position pairs with an entry of an index mapping.
func (c Components) ordered(param string, n int) ([]int, error) {
	if c.all {
		return c.resolve(param, n)
	}
	seen := make(map[int]bool, len(c.idx))
	for _, j := range c.idx {
		switch {
		case j < 0 || j >= n:
			return nil, configErr(param, c, "component index %d outside [0, %d)", j, n)
		case seen[j]:
			return nil, configErr(param, c, "component index %d is repeated", j)
		}
		seen[j] = true
	}
	return slices.Clone(c.idx), nil
}

// MarshalJSON encodes the selection as "all" or a list of indices.
func (c Components) MarshalJSON() ([]byte, error) {
	if c.all {
		return []byte(`"all"`), nil
	}
	if c.idx == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.idx)
}

// UnmarshalJSON accepts "all", null or a list of indices.
func (c *Components) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*c = Components{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != "all" {
			return fmt.Errorf("mcrals: unknown component selection %q (want \"all\" or a list)", s)
		}
		*c = AllComponents()
		return nil
	}
	var idx []int
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("mcrals: component selection: %w", err)
	}
	*c = Components{idx: idx}
	return nil
}
