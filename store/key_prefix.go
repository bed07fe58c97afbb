package store

// Declare database key prefixes for queue objects
const (
	PrefixQueueBlock = "bq:blk:"
	PrefixQueueHash  = "bq:hash:"
)
