// Package feed merges pushed notifications with paginated history into one
// ordered, deduplicated and capped list.
//
// A Feed is owned by a single event loop and is not safe for concurrent use.
// Every method leaves the list, offset and unread count consistent before it
// returns.
package feed

import (
	"errors"

	"github.com/nhle/novel-notify/internal/model"
)

// DefaultCapacity is the maximum number of records held in the list.
const DefaultCapacity = 50

var (
	// ErrStaleResponse is returned when a page arrives for a generation that
	// has since been reset.
	ErrStaleResponse = errors.New("stale page response")
	// ErrLoadInFlight is returned by BeginLoad while another load is pending.
	ErrLoadInFlight = errors.New("load already in flight")
	// ErrExhausted is returned by BeginLoad once the server has no more history.
	ErrExhausted = errors.New("history exhausted")
	// ErrFull is returned by BeginLoad when the list is at capacity.
	ErrFull = errors.New("feed at capacity")
	// ErrInert is returned by BeginLoad on a disabled feed.
	ErrInert = errors.New("feed disabled")
)

// Options configures a Feed.
type Options struct {
	Capacity int
	// Disabled makes every operation a no-op.
	Disabled bool
}

// Request identifies one history fetch. Offset is the number of server
// records already consumed; Generation ties the response to the list it was
// issued for.
type Request struct {
	Offset     int
	Generation uint64
}

// Feed is the in-memory notification list, newest first.
type Feed struct {
	capacity int
	inert    bool

	items []model.Notification
	ids   map[int64]struct{}

	offset     int
	hasMore    bool
	loading    bool
	unread     int
	unreadSet  bool
	generation uint64
}

// New creates an empty feed ready for its first load.
func New(opts Options) *Feed {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{
		capacity: capacity,
		inert:    opts.Disabled,
		ids:      make(map[int64]struct{}),
		hasMore:  true,
	}
}

func (f *Feed) Len() int           { return len(f.items) }
func (f *Feed) Capacity() int      { return f.capacity }
func (f *Feed) Offset() int        { return f.offset }
func (f *Feed) HasMore() bool      { return f.hasMore }
func (f *Feed) Loading() bool      { return f.loading }
func (f *Feed) Unread() int        { return f.unread }
func (f *Feed) Generation() uint64 { return f.generation }
func (f *Feed) Inert() bool        { return f.inert }

// Contains reports whether id is in the list.
func (f *Feed) Contains(id int64) bool {
	_, ok := f.ids[id]
	return ok
}

// At returns the record at index i, newest first.
func (f *Feed) At(i int) model.Notification {
	return f.items[i]
}

// Items returns a copy of the list, newest first.
func (f *Feed) Items() []model.Notification {
	out := make([]model.Notification, len(f.items))
	copy(out, f.items)
	return out
}

// SetUnread overrides the unread counter with a server-provided total.
// Appended history no longer adjusts the counter afterwards.
func (f *Feed) SetUnread(n int) {
	if f.inert {
		return
	}
	if n < 0 {
		n = 0
	}
	f.unread = n
	f.unreadSet = true
}

// BeginLoad reserves the single in-flight history fetch.
func (f *Feed) BeginLoad() (Request, error) {
	switch {
	case f.inert:
		return Request{}, ErrInert
	case f.loading:
		return Request{}, ErrLoadInFlight
	case !f.hasMore:
		return Request{}, ErrExhausted
	case len(f.items) >= f.capacity:
		return Request{}, ErrFull
	}
	f.loading = true
	return Request{Offset: f.offset, Generation: f.generation}, nil
}

// AppendOlder applies a fetched page to the tail of the list and returns the
// records that were added. Records already in the list are skipped and do not
// advance the offset: a duplicate means a push shifted the server log after
// the request was issued, and PrependNew has already counted that position.
// When the page does not fit, the remainder stays server-side and hasMore is
// kept.
func (f *Feed) AppendOlder(req Request, records []model.Notification, hasMore bool) ([]model.Notification, error) {
	if f.inert {
		return nil, nil
	}
	if req.Generation != f.generation {
		return nil, ErrStaleResponse
	}
	f.loading = false

	if len(records) == 0 {
		f.hasMore = false
		return nil, nil
	}

	var added []model.Notification
	truncated := false
	for _, rec := range records {
		if _, dup := f.ids[rec.ID]; dup {
			continue
		}
		if len(f.items) >= f.capacity {
			truncated = true
			break
		}
		f.items = append(f.items, rec)
		f.ids[rec.ID] = struct{}{}
		added = append(added, rec)
		if !rec.IsRead && !f.unreadSet {
			f.unread++
		}
	}

	f.offset += len(added)
	f.hasMore = hasMore || truncated
	return added, nil
}

// FailLoad releases the in-flight guard after a failed fetch. Offset and
// hasMore are left untouched so the next scroll retries the same page.
func (f *Feed) FailLoad(req Request) {
	if f.inert || req.Generation != f.generation {
		return
	}
	f.loading = false
}

// PrependNew inserts a pushed record at the head as unread. It returns false
// for a duplicate id. When the list overflows, the tail record is evicted and
// returned; it remains reachable through a later fetch.
func (f *Feed) PrependNew(rec model.Notification) (evicted *model.Notification, ok bool) {
	if f.inert {
		return nil, false
	}
	if _, dup := f.ids[rec.ID]; dup {
		return nil, false
	}

	rec.IsRead = false
	f.items = append(f.items, model.Notification{})
	copy(f.items[1:], f.items)
	f.items[0] = rec
	f.ids[rec.ID] = struct{}{}
	f.unread++
	f.offset++

	if len(f.items) > f.capacity {
		last := f.items[len(f.items)-1]
		f.items = f.items[:len(f.items)-1]
		delete(f.ids, last.ID)
		f.offset--
		evicted = &last
	}
	return evicted, true
}

// MarkRead flags the record as read. It returns the record's index and true
// only on the first transition; the unread counter is decremented once.
func (f *Feed) MarkRead(id int64) (int, bool) {
	if f.inert {
		return -1, false
	}
	for i := range f.items {
		if f.items[i].ID != id {
			continue
		}
		if f.items[i].IsRead {
			return i, false
		}
		f.items[i].IsRead = true
		if f.unread > 0 {
			f.unread--
		}
		return i, true
	}
	return -1, false
}

// WantsMore reports whether a cursor at row cursor is within threshold rows
// of the end and a fetch may start.
func (f *Feed) WantsMore(cursor, threshold int) bool {
	if f.inert || f.loading || !f.hasMore || len(f.items) >= f.capacity {
		return false
	}
	return len(f.items)-1-cursor <= threshold
}

// Reset empties the list and starts a new generation. Responses to requests
// issued before the reset are rejected with ErrStaleResponse.
func (f *Feed) Reset() {
	if f.inert {
		return
	}
	f.items = nil
	f.ids = make(map[int64]struct{})
	f.offset = 0
	f.hasMore = true
	f.loading = false
	if !f.unreadSet {
		f.unread = 0
	}
	f.generation++
}
