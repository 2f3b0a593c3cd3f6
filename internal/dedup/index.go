package dedup

// Verdict is the outcome of checking a text against the index
type Verdict struct {
	Duplicate  bool
	Similarity float64
	// Count is how many times the exact normalized text has been seen,
	// including this one when it was recorded.
	Count int
}

// Entry is the per-fingerprint bookkeeping
type Entry struct {
	Count    int
	LastSeen int // sequence number of the last check or record
}

type windowItem struct {
	tokens map[string]struct{}
}

// Index tracks emitted texts for one generation run. Exact repeats are
// detected against the whole run; near-duplicates by token-set similarity
// against a bounded window of the most recent distinct texts.
// Index is not safe for concurrent use; it has a single writer.
type Index struct {
	threshold float64
	size      int
	entries   map[uint64]*Entry
	window    []windowItem // ring buffer
	next      int
	seq       int
}

// New creates an index. threshold is the Jaccard similarity at or above
// which a text is a near-duplicate; window bounds the comparison history.
func New(threshold float64, window int) *Index {
	if window < 1 {
		window = 1
	}
	return &Index{
		threshold: threshold,
		size:      window,
		entries:   make(map[uint64]*Entry),
		window:    make([]windowItem, 0, window),
	}
}

// CheckAndRecord reports whether text is a near-duplicate of anything seen.
// Unique text is recorded. An exact repeat bumps the seen-count of its entry;
// a near-duplicate of a different text is not recorded.
func (ix *Index) CheckAndRecord(text string) Verdict {
	ix.seq++
	norm := Normalize(text)
	fp := Fingerprint(norm)

	if e, ok := ix.entries[fp]; ok {
		e.Count++
		e.LastSeen = ix.seq
		return Verdict{Duplicate: true, Similarity: 1, Count: e.Count}
	}

	tokens := Tokens(norm)
	best := ix.bestMatch(tokens)
	if best >= ix.threshold {
		return Verdict{Duplicate: true, Similarity: best}
	}

	ix.insert(fp, tokens)
	return Verdict{Similarity: best, Count: 1}
}

// Check reports the verdict for text without recording anything
func (ix *Index) Check(text string) Verdict {
	norm := Normalize(text)
	fp := Fingerprint(norm)
	if e, ok := ix.entries[fp]; ok {
		return Verdict{Duplicate: true, Similarity: 1, Count: e.Count}
	}
	best := ix.bestMatch(Tokens(norm))
	return Verdict{Duplicate: best >= ix.threshold, Similarity: best}
}

// Record accepts text regardless of similarity and returns its seen-count
func (ix *Index) Record(text string) int {
	ix.seq++
	norm := Normalize(text)
	fp := Fingerprint(norm)
	if e, ok := ix.entries[fp]; ok {
		e.Count++
		e.LastSeen = ix.seq
		return e.Count
	}
	ix.insert(fp, Tokens(norm))
	return 1
}

// Len returns the number of distinct normalized texts recorded
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Lookup returns the entry for text, if it was recorded
func (ix *Index) Lookup(text string) (Entry, bool) {
	e, ok := ix.entries[Fingerprint(Normalize(text))]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (ix *Index) bestMatch(tokens map[string]struct{}) float64 {
	best := 0.0
	for _, item := range ix.window {
		if s := Jaccard(tokens, item.tokens); s > best {
			best = s
		}
	}
	return best
}

func (ix *Index) insert(fp uint64, tokens map[string]struct{}) {
	ix.entries[fp] = &Entry{Count: 1, LastSeen: ix.seq}
	item := windowItem{tokens: tokens}
	if len(ix.window) < ix.size {
		ix.window = append(ix.window, item)
		return
	}
	ix.window[ix.next] = item
	ix.next = (ix.next + 1) % ix.size
}
