// Package collab is the client-side toolkit for collaborative editing
// sessions: a shared-document model, a presence client for the relay,
// and a session manager that binds an editor to one file at a time.
package collab

import (
	"sync"
)

// Document is an observable text buffer shared through a sync room.
// Mutations inside a Transact call coalesce into a single observer
// notification, mirroring how the wire protocol batches a transaction
// into one update.
type Document struct {
	mu        sync.Mutex
	key       string
	content   []rune
	observers map[int]func(content string)
	nextObs   int
	txDepth   int
	txDirty   bool
}

// Key returns the document's store key.
func (d *Document) Key() string { return d.key }

// String returns the current text.
func (d *Document) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.content)
}

// Len returns the text length in runes.
func (d *Document) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.content)
}

// Observe registers fn to run after every change, with the full text.
// The returned function removes the observer.
func (d *Document) Observe(fn func(content string)) (unobserve func()) {
	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

// Insert places text at the given rune offset. Offsets out of range
// clamp to the ends.
func (d *Document) Insert(pos int, text string) {
	d.mu.Lock()
	pos = clamp(pos, len(d.content))
	runes := []rune(text)
	d.content = append(d.content[:pos], append(runes, d.content[pos:]...)...)
	d.changedLocked()
}

// Delete removes n runes starting at pos. Ranges out of bounds clamp.
func (d *Document) Delete(pos, n int) {
	d.mu.Lock()
	pos = clamp(pos, len(d.content))
	end := clamp(pos+n, len(d.content))
	d.content = append(d.content[:pos], d.content[end:]...)
	d.changedLocked()
}

// SetText replaces the whole document.
func (d *Document) SetText(text string) {
	d.mu.Lock()
	d.content = []rune(text)
	d.changedLocked()
}

// Transact runs fn as one batch: observers fire once at the end, and
// only if something changed. Nested transactions fold into the
// outermost one.
func (d *Document) Transact(fn func()) {
	d.mu.Lock()
	d.txDepth++
	d.mu.Unlock()

	fn()

	d.mu.Lock()
	d.txDepth--
	notify := d.txDepth == 0 && d.txDirty
	if notify {
		d.txDirty = false
	}
	d.changedUnlockAndNotify(notify)
}

// changedLocked is called with the lock held after a mutation; it
// either notifies now or defers to the enclosing transaction.
func (d *Document) changedLocked() {
	if d.txDepth > 0 {
		d.txDirty = true
		d.mu.Unlock()
		return
	}
	d.changedUnlockAndNotify(true)
}

// changedUnlockAndNotify snapshots observers and content, releases the
// lock, then notifies. Observers run unlocked so they may call back
// into the document.
func (d *Document) changedUnlockAndNotify(notify bool) {
	if !notify {
		d.mu.Unlock()
		return
	}
	content := string(d.content)
	obs := make([]func(string), 0, len(d.observers))
	for _, fn := range d.observers {
		obs = append(obs, fn)
	}
	d.mu.Unlock()

	for _, fn := range obs {
		fn(content)
	}
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// DocumentStore holds one Document per file, keyed "file:<path>". The
// same path always yields the same Document, so every binding for a
// file shares state.
type DocumentStore struct {
	mu   sync.Mutex
	docs map[string]*Document
}

// NewDocumentStore creates an empty store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]*Document)}
}

// Get returns the document for filePath, creating it on first use.
func (s *DocumentStore) Get(filePath string) *Document {
	key := "file:" + filePath

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key]
	if !ok {
		doc = &Document{
			key:       key,
			observers: make(map[int]func(string)),
		}
		s.docs[key] = doc
	}
	return doc
}
