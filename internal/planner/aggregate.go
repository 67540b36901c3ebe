package planner

import (
	"github.com/cpuguy83/alarmd/internal/calendar"
	"github.com/cpuguy83/alarmd/internal/event"
)

// AggregatePlanner merges the sets of its children.
type AggregatePlanner struct {
	Base
	children []Planner
	conns    []*event.Connection
}

// NewAggregatePlanner returns a planner publishing the union of children,
// sorted by begin. Ties keep child order.
func NewAggregatePlanner(children ...Planner) *AggregatePlanner {
	p := &AggregatePlanner{}
	for _, c := range children {
		p.Add(c)
	}
	return p
}

// Add appends a child and republishes.
func (p *AggregatePlanner) Add(child Planner) {
	p.children = append(p.children, child)
	p.conns = append(p.conns, child.OnChanged(func([]calendar.Appointment) { p.rebuild() }))
	p.rebuild()
}

// Close stops following the children.
func (p *AggregatePlanner) Close() {
	for _, c := range p.conns {
		c.Disconnect()
	}
	p.conns = nil
}

func (p *AggregatePlanner) rebuild() {
	sets := make([][]calendar.Appointment, 0, len(p.children))
	for _, c := range p.children {
		sets = append(sets, c.Appointments())
	}
	p.Publish(calendar.Merge(sets...))
}
