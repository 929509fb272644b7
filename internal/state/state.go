// Package state holds the transition tables for the mission, contract and payment
// lifecycles. A table is data: tightening a rule is a one-line edit to the table literal.
package state

// Transition is a named, allowed move between two states.
type Transition[S comparable] struct {
	Name string `json:"name"`
	From S      `json:"from"`
	To   S      `json:"to"`
}

// Table is a stateless lookup over a fixed set of states and transitions.
type Table[S comparable] struct {
	States      []S             `json:"states"`
	Transitions []Transition[S] `json:"transitions"`

	index map[S]map[S]string
}

func NewTable[S comparable](states []S, transitions []Transition[S]) *Table[S] {
	t := &Table[S]{States: states, Transitions: transitions, index: make(map[S]map[S]string, len(states))}
	for _, tr := range transitions {
		if t.index[tr.From] == nil {
			t.index[tr.From] = map[S]string{}
		}
		t.index[tr.From][tr.To] = tr.Name
	}
	return t
}

// Allowed reports whether from -> to appears in the table.
func (t *Table[S]) Allowed(from, to S) bool {
	_, ok := t.index[from][to]
	return ok
}

// Name returns the transition name for from -> to, or "" when not allowed.
func (t *Table[S]) Name(from, to S) string {
	return t.index[from][to]
}

// AvailableTransitions returns transitions leaving from, in table order.
func (t *Table[S]) AvailableTransitions(from S) []Transition[S] {
	r := []Transition[S]{}
	for _, tr := range t.Transitions {
		if tr.From == from {
			r = append(r, tr)
		}
	}
	return r
}

// Terminal reports whether no transition leaves s.
func (t *Table[S]) Terminal(s S) bool {
	return len(t.index[s]) == 0
}

// Known reports whether s is one of the table's states.
func (t *Table[S]) Known(s S) bool {
	for _, st := range t.States {
		if st == s {
			return true
		}
	}
	return false
}
