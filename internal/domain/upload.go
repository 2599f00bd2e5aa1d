package domain

import "time"

// Upload tracks an in-progress chunked blob upload across PATCH calls.
// State is persisted so a process restart does not orphan the session.
type Upload struct {
	UUID         string
	Repository   string
	StartedAt    time.Time
	Offset       int64
	Expected     string // digest the client declared up front, if any (monolithic PUT path)
	TempPath     string // location of the partially-written blob on the object store's staging area
}
