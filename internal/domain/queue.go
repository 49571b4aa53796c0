package domain

import (
	"fmt"
	"time"

	"golang.org/x/exp/slices"
)

type QueueMode string

const (
	// QueueModeSingleLeader allows only the leader to mutate the queue.
	QueueModeSingleLeader QueueMode = "single-leader"
	// QueueModeCollaborative additionally allows any active joined
	// member to append. Remove, reorder, clear and advance stay
	// leader-only.
	QueueModeCollaborative QueueMode = "collaborative"
)

type QueueItem struct {
	Id         string    `json:"id"`
	ContentId  string    `json:"content_id"`
	Title      string    `json:"title"`
	AddedBy    string    `json:"added_by"`
	AddedAt    time.Time `json:"added_at"`
	IsPlaylist bool      `json:"is_playlist"`
	PlaylistId *string   `json:"playlist_id,omitempty"`
}

// NewQueueItemId derives an item id from the content id and insertion
// time, so the same content can sit in the queue more than once.
func NewQueueItemId(contentId string, at time.Time) string {
	return fmt.Sprintf("%s-%d", contentId, at.UnixMilli())
}

// QueueState is the local replica of the shared play queue. Written
// only by the queue replicator. CurrentIndex is -1 when nothing is
// current and otherwise always a valid index into Items; every
// mutation below recomputes it so it never dangles.
type QueueState struct {
	Items             []QueueItem
	CurrentIndex      int
	Mode              QueueMode
	LoadedSavedSetId  *string
	ModifiedFromSaved bool
}

func NewQueueState(mode QueueMode) QueueState {
	return QueueState{
		CurrentIndex: -1,
		Mode:         mode,
	}
}

func (q *QueueState) CurrentItem() (QueueItem, bool) {
	if q.CurrentIndex < 0 || q.CurrentIndex >= len(q.Items) {
		return QueueItem{}, false
	}

	return q.Items[q.CurrentIndex], true
}

func (q *QueueState) IndexOf(itemId string) int {
	return slices.IndexFunc(q.Items, func(it QueueItem) bool {
		return it.Id == itemId
	})
}

// Add appends item, or inserts it immediately after the current item
// when toFront is set. An add to an empty queue makes the new item
// current.
func (q *QueueState) Add(item QueueItem, toFront bool) {
	wasEmpty := len(q.Items) == 0

	if toFront && q.CurrentIndex >= 0 {
		q.Items = slices.Insert(q.Items, q.CurrentIndex+1, item)
	} else {
		q.Items = append(q.Items, item)
	}

	if wasEmpty {
		q.CurrentIndex = 0
	}
	q.markModified()
}

// Remove deletes the item with the given id. currentChanged reports
// that the removed item was the current one, so the caller can load
// whatever became current.
func (q *QueueState) Remove(itemId string) (removed QueueItem, currentChanged bool, err error) {
	index := q.IndexOf(itemId)
	if index < 0 {
		return QueueItem{}, false, ErrItemNotFound
	}

	removed = q.Items[index]
	q.Items = slices.Delete(q.Items, index, index+1)

	switch {
	case index < q.CurrentIndex:
		q.CurrentIndex--
	case index == q.CurrentIndex:
		currentChanged = true
		if len(q.Items) == 0 {
			q.CurrentIndex = -1
		} else if q.CurrentIndex >= len(q.Items) {
			q.CurrentIndex = len(q.Items) - 1
		}
	}

	q.markModified()
	return removed, currentChanged, nil
}

// Reorder moves the item at fromIndex to toIndex. The current pointer
// follows the current item if it is the one moved, and shifts by one
// when the move crosses it.
func (q *QueueState) Reorder(fromIndex, toIndex int) error {
	if fromIndex < 0 || fromIndex >= len(q.Items) || toIndex < 0 || toIndex >= len(q.Items) {
		return ErrInvalidIndex
	}
	if fromIndex == toIndex {
		return nil
	}

	item := q.Items[fromIndex]
	q.Items = slices.Delete(q.Items, fromIndex, fromIndex+1)
	q.Items = slices.Insert(q.Items, toIndex, item)

	switch {
	case fromIndex == q.CurrentIndex:
		q.CurrentIndex = toIndex
	case fromIndex < q.CurrentIndex && toIndex >= q.CurrentIndex:
		q.CurrentIndex--
	case fromIndex > q.CurrentIndex && toIndex <= q.CurrentIndex:
		q.CurrentIndex++
	}

	q.markModified()
	return nil
}

// AdvanceCycle moves the current item to the end of the queue so it
// plays again after everything else, then recomputes the pointer. The
// queue behaves round-robin rather than consuming.
func (q *QueueState) AdvanceCycle() (QueueItem, bool) {
	current, ok := q.CurrentItem()
	if !ok {
		return QueueItem{}, false
	}

	// the wrap check runs against the shrunk slice: re-appending first
	// would restore the original length and never wrap
	q.Items = slices.Delete(q.Items, q.CurrentIndex, q.CurrentIndex+1)
	if q.CurrentIndex >= len(q.Items) {
		q.CurrentIndex = 0
	}
	q.Items = append(q.Items, current)

	q.markModified()
	return q.Items[q.CurrentIndex], true
}

// AdvanceLinear steps the pointer forward, wrapping to 0 at the end of
// a non-empty queue.
func (q *QueueState) AdvanceLinear() (QueueItem, bool) {
	if len(q.Items) == 0 {
		q.CurrentIndex = -1
		return QueueItem{}, false
	}

	q.CurrentIndex++
	if q.CurrentIndex >= len(q.Items) {
		q.CurrentIndex = 0
	}

	q.markModified()
	return q.Items[q.CurrentIndex], true
}

func (q *QueueState) Clear() {
	q.Items = nil
	q.CurrentIndex = -1
	q.markModified()
}

// ReplaceAll swaps in a full remote snapshot, clamping the pointer
// rather than trusting the wire value blindly.
func (q *QueueState) ReplaceAll(items []QueueItem, currentIndex int) {
	q.Items = make([]QueueItem, len(items))
	copy(q.Items, items)

	if currentIndex < -1 || currentIndex >= len(q.Items) {
		currentIndex = -1
	}
	q.CurrentIndex = currentIndex
	q.markModified()
}

func (q *QueueState) markModified() {
	if q.LoadedSavedSetId != nil {
		q.ModifiedFromSaved = true
	}
}
