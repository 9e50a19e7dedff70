package crawler

// frontier is the FIFO queue of discovered-but-not-yet-processed URLs plus
// the visited and ever-queued sets. FIFO order gives breadth-first traversal
// by construction. The crawl is strictly sequential, so no locking is needed.
type frontier struct {
	entries []FrontierEntry
	queued  map[string]struct{}
	visited map[string]struct{}
}

func newFrontier() *frontier {
	return &frontier{
		queued:  make(map[string]struct{}),
		visited: make(map[string]struct{}),
	}
}

// push enqueues a new entry. A URL that has ever been queued is refused, so
// in-flight and processed URLs can never be enqueued twice.
func (f *frontier) push(entry FrontierEntry) bool {
	if _, ok := f.queued[entry.URL]; ok {
		return false
	}
	f.queued[entry.URL] = struct{}{}
	f.entries = append(f.entries, entry)
	return true
}

// pop removes and returns the oldest entry.
func (f *frontier) pop() (FrontierEntry, bool) {
	if len(f.entries) == 0 {
		return FrontierEntry{}, false
	}
	entry := f.entries[0]
	f.entries = f.entries[1:]
	return entry, true
}

func (f *frontier) len() int {
	return len(f.entries)
}

// markVisited records a URL's terminal state. The set only ever grows.
func (f *frontier) markVisited(url string) {
	f.visited[url] = struct{}{}
}

func (f *frontier) isVisited(url string) bool {
	_, ok := f.visited[url]
	return ok
}

func (f *frontier) isQueued(url string) bool {
	_, ok := f.queued[url]
	return ok
}
