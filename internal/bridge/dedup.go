package bridge

// DedupCache suppresses republication of unchanged datapoint values. Keys
// are (topic_name, dp_code) pairs, comparison is exact string equality after
// translation — no numeric tolerance, no expiry.
//
// The cache is owned exclusively by the orchestrator's publish loop and is
// deliberately unsynchronized.
type DedupCache struct {
	values map[dedupKey]string
}

type dedupKey struct {
	topicName string
	code      string
}

// NewDedupCache returns an empty cache.
func NewDedupCache() *DedupCache {
	return &DedupCache{values: make(map[dedupKey]string)}
}

// Changed records value for (topicName, code) and reports whether it differs
// from the previously recorded value. The first observation of a key always
// reports true.
func (c *DedupCache) Changed(topicName, code, value string) bool {
	k := dedupKey{topicName: topicName, code: code}
	if prev, ok := c.values[k]; ok && prev == value {
		return false
	}
	c.values[k] = value
	return true
}

// Len returns the number of tracked (topic_name, dp_code) pairs.
func (c *DedupCache) Len() int {
	return len(c.values)
}
