package model

import "github.com/rotisserie/eris"

var (
	// ErrNotFound indicates a referenced group or user is absent.
	ErrNotFound = eris.New("not found")

	// ErrCycleRejected indicates a subtree move that would make a node its
	// own ancestor. The tree is left unchanged; callers may retry with a
	// different target.
	ErrCycleRejected = eris.New("move rejected: would create a cycle")
)
