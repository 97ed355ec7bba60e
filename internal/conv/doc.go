// Package conv converts between integer widths with bounds checks. It guards
// the uint32 size fields of checkpoint block headers.
package conv
