// Package area manages the spatial registry: named locations entities
// are assigned to. Areas are flat (no hierarchy) with an optional
// floor label, and are referenced from entities by id.
package area
