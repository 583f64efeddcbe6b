// Package tiling enumerates patch placements over a volume and delivers the
// resulting patches to a consumer in batches.
//
// Plan is the tiling plan (patch and stride shapes). Source is the boundary
// the stitching engine pulls from; ArraySource is the in-memory
// implementation, which may slice patches ahead of the consumer on a small
// worker pool but always delivers batches in order, one at a time.
package tiling
