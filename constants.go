package rdx

import "github.com/kbridge-dev/go-rdx/internal/constants"

// Re-exported limits and defaults, the public-API analogue of the
// teacher's constants.go re-export block.
const (
	MaxLanes           = constants.MaxLanes
	NullLane           = constants.NullLane
	NullResource       = constants.NullResource
	StubBcopyMax       = constants.StubBcopyMax
	DefaultBcopyThresh = constants.DefaultBcopyThresh
)
