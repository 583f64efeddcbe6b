// Package volume owns the dense array model shared by the tiling, inference
// and stitching layers.
//
// A Volume is a channels × depth × height × width block of float64 values
// stored row-major (X fastest). 2D data is represented with depth 1.
// Key types: Volume, Triple, Range, Region.
//
// Dependency rule: volume depends on no other internal package.
package volume
