package sampler

import "time"

// timeNowNano is a seam so nanoSeed's default wiring stays testable.
func timeNowNano() int64 { return time.Now().UnixNano() }
