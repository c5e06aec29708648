package merkle

import "errors"

// ErrUnsupportedLeafCount is returned by BuildTree for N outside 1..4,
// the bound this system operates under (segmented orders fix N=4).
var ErrUnsupportedLeafCount = errors.New("merkle: leaf count must be in 1..4")
