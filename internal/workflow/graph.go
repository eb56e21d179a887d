// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"fmt"
)

// End terminates execution when returned by a router.
const End = "__end__"

// NodeFunc is one unit of work: a transformation of the run state. Nodes do
// no persistence; the driver snapshots state after each node returns.
type NodeFunc func(ctx context.Context, st *RunState) error

// Router picks the next node from the current state. Routing is data-driven
// only; there is no retry or backoff inside the graph.
type Router func(st *RunState) string

type graphNode struct {
	fn   NodeFunc
	next Router
}

// Graph is a declarative node/edge structure with a single entry point.
// It is independent of any particular run and safe to reuse concurrently.
type Graph struct {
	entry string
	nodes map[string]graphNode
}

type GraphBuilder struct {
	g   *Graph
	err error
}

func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{g: &Graph{nodes: map[string]graphNode{}}}
}

func (b *GraphBuilder) AddNode(name string, fn NodeFunc, next Router) *GraphBuilder {
	if b.err != nil {
		return b
	}
	if _, dup := b.g.nodes[name]; dup {
		b.err = fmt.Errorf("duplicate node %q", name)
		return b
	}
	if fn == nil || next == nil {
		b.err = fmt.Errorf("node %q needs both a function and a router", name)
		return b
	}
	b.g.nodes[name] = graphNode{fn: fn, next: next}
	return b
}

// AddEdge wires a static successor.
func (b *GraphBuilder) AddEdge(from string, fn NodeFunc, to string) *GraphBuilder {
	return b.AddNode(from, fn, func(*RunState) string { return to })
}

func (b *GraphBuilder) SetEntry(name string) *GraphBuilder {
	if b.err == nil {
		b.g.entry = name
	}
	return b
}

func (b *GraphBuilder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.g.entry == "" {
		return nil, fmt.Errorf("graph has no entry point")
	}
	if _, ok := b.g.nodes[b.g.entry]; !ok {
		return nil, fmt.Errorf("entry node %q not defined", b.g.entry)
	}
	return b.g, nil
}

// Entry returns the graph's normal starting node.
func (g *Graph) Entry() string { return g.entry }

// HasNode reports whether the named node exists, for validating rerun
// targets before execution starts.
func (g *Graph) HasNode(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// StepFunc observes one completed node: its name and the updated state.
// Returning an error stops the walk and propagates to the caller.
type StepFunc func(node string, st *RunState) error

// Stream walks the graph from the given node (the entry for fresh runs, a
// checkpoint's node for directed-jump reruns), invoking each node and then
// the observer. This is node-granularity streaming: the observer runs after
// every node boundary.
func (g *Graph) Stream(ctx context.Context, start string, st *RunState, observe StepFunc) error {
	current := start
	if current == "" {
		current = g.entry
	}

	for current != End {
		node, ok := g.nodes[current]
		if !ok {
			return fmt.Errorf("unknown node %q", current)
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := node.fn(ctx, st); err != nil {
			return fmt.Errorf("node %s: %w", current, err)
		}
		if observe != nil {
			if err := observe(current, st); err != nil {
				return err
			}
		}

		current = node.next(st)
	}
	return nil
}
