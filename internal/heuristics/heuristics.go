// Package heuristics holds the deterministic decision policies used whenever
// the AI path is disabled, shadowed, or unusable. Every function here is pure.
package heuristics
