package models

import (
	"fmt"
	"path"
)

// OwnerKind identifies which marketplace entity owns imported files
type OwnerKind string

const (
	OwnerProject OwnerKind = "project"
	OwnerPitch   OwnerKind = "pitch"
)

// FileOwner is a tagged union over the two entity kinds that can receive
// imported files. Components never inspect entity types at runtime; they
// go through this value.
type FileOwner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

// Validate checks the owner is one of the known kinds with an ID
func (o FileOwner) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("owner id is required")
	}
	switch o.Kind {
	case OwnerProject, OwnerPitch:
		return nil
	default:
		return fmt.Errorf("unknown owner kind: %s", o.Kind)
	}
}

// StoragePrefix returns the object-store prefix for this owner's files
func (o FileOwner) StoragePrefix() string {
	switch o.Kind {
	case OwnerPitch:
		return path.Join("pitches", o.ID, "files")
	default:
		return path.Join("projects", o.ID, "files")
	}
}

// String implements fmt.Stringer
func (o FileOwner) String() string {
	return string(o.Kind) + ":" + o.ID
}
