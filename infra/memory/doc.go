// Package memory provides typed object pools for hot encode paths.
package memory
