// Package parallel contains a bounded parallel ForEach used to assemble batches.
package parallel
