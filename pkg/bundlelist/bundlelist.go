// SPDX-License-Identifier: MPL-2.0

// Package bundlelist defines the ordered bundle-list model and its CUE
// document codec.
//
// A list is an ordered collection of bundle entries keyed by identity
// (namespace, name, classifier). Adding an entry whose identity is already
// present replaces the existing entry's attributes in place, keeping its
// original position; merging another list applies its entries in order with
// the same rule, so merge order matters and the first occurrence of an
// identity decides its position in the final list.
package bundlelist

import (
	"errors"
	"fmt"
	"slices"

	"launchkit-cli/pkg/coordinate"
)

// DefaultStartPriority marks an entry that uses the launcher's own default
// start ordering rather than an explicit priority.
const DefaultStartPriority = -1

// ErrEntryNotFound is returned by Remove when the identity is absent and
// the caller asked for strict removal.
var ErrEntryNotFound = errors.New("bundle entry not found")

// Entry is a single bundle reference in a list.
type Entry struct {
	// Namespace and Name identify the bundle together with Classifier.
	Namespace string
	Name      string
	// Version is the exact version or range requirement for the bundle.
	Version string
	// Classifier distinguishes variants of the same bundle; usually empty.
	Classifier string
	// StartPriority orders bundle activation; DefaultStartPriority defers
	// to the launcher.
	StartPriority int
	// RunModes restricts the entry to the named launcher run modes; empty
	// means all modes.
	RunModes []string
}

// ID returns the merge identity of the entry.
func (e Entry) ID() coordinate.ID {
	return coordinate.ID{Namespace: e.Namespace, Name: e.Name, Classifier: e.Classifier}
}

// Coordinate returns the registry coordinate for the entry's payload.
func (e Entry) Coordinate() coordinate.Coordinate {
	return coordinate.Coordinate{
		Namespace:  e.Namespace,
		Name:       e.Name,
		Version:    e.Version,
		Type:       coordinate.TypeBundle,
		Classifier: e.Classifier,
	}
}

// Validate checks that the entry is well formed.
func (e Entry) Validate() error {
	if err := e.Coordinate().Validate(); err != nil {
		return err
	}
	if e.StartPriority < DefaultStartPriority {
		return fmt.Errorf("entry %s: start priority %d below %d", e.ID(), e.StartPriority, DefaultStartPriority)
	}
	return nil
}

// Equal reports whether two entries carry the same identity and attributes.
func (e Entry) Equal(other Entry) bool {
	if e.Namespace != other.Namespace || e.Name != other.Name || e.Classifier != other.Classifier {
		return false
	}
	if e.Version != other.Version || e.StartPriority != other.StartPriority {
		return false
	}
	return slices.Equal(e.RunModes, other.RunModes)
}

// clone returns a deep copy of the entry.
func (e Entry) clone() Entry {
	if e.RunModes != nil {
		modes := make([]string, len(e.RunModes))
		copy(modes, e.RunModes)
		e.RunModes = modes
	}
	return e
}

// List is an ordered bundle list keyed by entry identity.
//
// The zero value is not usable; construct with New.
type List struct {
	entries []Entry
	index   map[coordinate.ID]int
}

// New returns an empty list.
func New() *List {
	return &List{index: make(map[coordinate.ID]int)}
}

// Len returns the number of entries.
func (l *List) Len() int {
	return len(l.entries)
}

// Add inserts the entry or, when its identity is already present, replaces
// the existing entry's attributes in place. The position of a replaced
// entry does not change; a new identity is appended. The last write wins.
func (l *List) Add(e Entry) {
	e = e.clone()
	if pos, ok := l.index[e.ID()]; ok {
		l.entries[pos] = e
		return
	}
	l.index[e.ID()] = len(l.entries)
	l.entries = append(l.entries, e)
}

// Remove deletes the entry with the given identity. When the identity is
// absent it returns ErrEntryNotFound if failIfAbsent is set and nil
// otherwise.
func (l *List) Remove(id coordinate.ID, failIfAbsent bool) error {
	pos, ok := l.index[id]
	if !ok {
		if failIfAbsent {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		return nil
	}

	l.entries = append(l.entries[:pos], l.entries[pos+1:]...)
	delete(l.index, id)
	for i := pos; i < len(l.entries); i++ {
		l.index[l.entries[i].ID()] = i
	}
	return nil
}

// Merge applies every entry of other onto l in order, using Add semantics.
// Merging is not commutative: attributes from other win, while positions of
// identities already in l are kept.
func (l *List) Merge(other *List) {
	if other == nil {
		return
	}
	for _, e := range other.entries {
		l.Add(e)
	}
}

// Get returns the entry with the given identity.
func (l *List) Get(id coordinate.ID) (Entry, bool) {
	pos, ok := l.index[id]
	if !ok {
		return Entry{}, false
	}
	return l.entries[pos].clone(), true
}

// Contains reports whether the identity is present.
func (l *List) Contains(id coordinate.ID) bool {
	_, ok := l.index[id]
	return ok
}

// Entries returns the entries in list order. The returned slice and its
// entries are copies; mutating them does not affect the list.
func (l *List) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.clone()
	}
	return out
}

// Clone returns a deep copy of the list.
func (l *List) Clone() *List {
	c := New()
	for _, e := range l.entries {
		c.Add(e)
	}
	return c
}
