// Package lifecycle holds the order and bill state machines and the service
// that applies audited transitions through them.
package lifecycle

import (
	"sort"
	"strings"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/models"
)

type rule struct {
	requiresReason bool
}

// Machine is a deny-by-default transition table.
type Machine struct {
	entity string
	states map[string]struct{}
	rules  map[string]map[string]rule
}

func newMachine(entity string, states []string, rules map[string]map[string]rule) *Machine {
	m := &Machine{entity: entity, states: make(map[string]struct{}, len(states)), rules: rules}
	for _, s := range states {
		m.states[s] = struct{}{}
	}
	return m
}

var OrderMachine = newMachine(models.EntityOrder,
	[]string{
		models.OrderPending, models.OrderConfirmed, models.OrderProcessing,
		models.OrderCompleted, models.OrderCancelled, models.OrderRejected,
	},
	map[string]map[string]rule{
		models.OrderPending: {
			models.OrderConfirmed: {},
			models.OrderCancelled: {},
			models.OrderRejected:  {requiresReason: true},
		},
		models.OrderConfirmed: {
			models.OrderProcessing: {},
			models.OrderCancelled:  {},
		},
		models.OrderProcessing: {
			models.OrderCompleted: {},
		},
	},
)

var BillMachine = newMachine(models.EntityBill,
	[]string{
		models.BillDraft, models.BillIssued, models.BillPartialPaid,
		models.BillPaid, models.BillOverdue, models.BillCancelled,
	},
	map[string]map[string]rule{
		models.BillDraft: {
			models.BillIssued:    {},
			models.BillCancelled: {},
		},
		models.BillIssued: {
			models.BillPartialPaid: {},
			models.BillPaid:        {},
			models.BillOverdue:     {},
			models.BillCancelled:   {},
		},
		models.BillPartialPaid: {
			models.BillPaid:    {},
			models.BillOverdue: {},
		},
		models.BillOverdue: {
			models.BillPaid:        {},
			models.BillPartialPaid: {},
		},
	},
)

// MachineFor returns the machine for an entity type, or nil.
func MachineFor(entity string) *Machine {
	switch entity {
	case models.EntityOrder:
		return OrderMachine
	case models.EntityBill:
		return BillMachine
	}
	return nil
}

func (m *Machine) Entity() string { return m.entity }

func (m *Machine) IsState(s string) bool {
	_, ok := m.states[s]
	return ok
}

// IsTerminal reports whether s has no outbound transitions.
func (m *Machine) IsTerminal(s string) bool {
	return m.IsState(s) && len(m.rules[s]) == 0
}

// ValidateTransition accepts a self-transition unconditionally. Any pair
// missing from the table is rejected.
func (m *Machine) ValidateTransition(from, to, reason string) error {
	if !m.IsState(to) {
		return apperr.New(apperr.KindInvalidInput, "unknown %s status %q", m.entity, to)
	}
	if from == to {
		return nil
	}
	r, ok := m.rules[from][to]
	if !ok {
		return apperr.New(apperr.KindInvalidTransition, "%s cannot move from %s to %s", m.entity, from, to)
	}
	if r.requiresReason && strings.TrimSpace(reason) == "" {
		return apperr.New(apperr.KindInvalidTransition, "%s transition %s -> %s requires a reason", m.entity, from, to)
	}
	return nil
}

// AvailableTransitions lists the targets reachable from s, sorted.
func (m *Machine) AvailableTransitions(s string) []string {
	out := make([]string, 0, len(m.rules[s]))
	for to := range m.rules[s] {
		out = append(out, to)
	}
	sort.Strings(out)
	return out
}

func (m *Machine) RequiresReason(from, to string) bool {
	return m.rules[from][to].requiresReason
}
