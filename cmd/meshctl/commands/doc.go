// Package commands wires the meshctl CLI: identity management plus a
// self-contained two-node demo.
package commands
