package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"hn-digest/models"
	"hn-digest/providers/hackernews"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeFeed ist ein In-Memory-Feed für Tests.
type fakeFeed struct {
	mu     sync.Mutex
	top    []int64
	items  map[int64]*models.RawItem
	fail   map[int64]bool
	calls  map[int64]int
	topErr error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{items: map[int64]*models.RawItem{}, fail: map[int64]bool{}, calls: map[int64]int{}}
}

func (f *fakeFeed) ListTopItemIDs(_ context.Context, limit int) ([]int64, error) {
	if f.topErr != nil {
		return nil, f.topErr
	}
	if limit > 0 && len(f.top) > limit {
		return f.top[:limit], nil
	}
	return f.top, nil
}

func (f *fakeFeed) FetchItem(_ context.Context, id int64) (*models.RawItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if f.fail[id] {
		return nil, fmt.Errorf("item %d: %w", id, hackernews.ErrFeedUnavailable)
	}
	item, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", id, hackernews.ErrNotFound)
	}
	cp := *item
	return &cp, nil
}

func (f *fakeFeed) fetched(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeFeed) comment(id, parent int64, text string, kids ...int64) {
	f.items[id] = &models.RawItem{ID: id, Type: "comment", By: fmt.Sprintf("user%d", id), Text: text, Parent: parent, Kids: kids}
}

func TestHarvestTreeCollectsAllLiveComments(t *testing.T) {
	feed := newFakeFeed()
	feed.comment(1, 100, "top <i>one</i>", 3, 4)
	feed.comment(2, 100, "top two")
	feed.comment(3, 1, "reply &amp; more<p>second para")
	feed.comment(4, 1, "reply four", 5)
	feed.comment(5, 4, "deep")

	h := newHarvester(feed, 0, 1, 50, zaptest.NewLogger(t))
	out := h.HarvestTree(context.Background(), []int64{1, 2})

	require.Len(t, out, 5)
	byID := map[string]models.CommentDTO{}
	for _, c := range out {
		byID[c.ID] = c
	}
	assert.Nil(t, byID["1"].ParentID)
	assert.Nil(t, byID["2"].ParentID)
	require.NotNil(t, byID["5"].ParentID)
	assert.Equal(t, "4", *byID["5"].ParentID)
	assert.Equal(t, "top one", byID["1"].Text)
	assert.Equal(t, "reply & more\n\nsecond para", byID["3"].Text)
	assert.Equal(t, "user2", byID["2"].Author)
}

func TestHarvestTreeToleratesFailedSibling(t *testing.T) {
	feed := newFakeFeed()
	feed.comment(1, 100, "a", 10)
	feed.comment(2, 100, "b")
	feed.comment(3, 100, "c")
	feed.comment(10, 1, "reply of a")
	feed.fail[2] = true

	out := newHarvester(feed, 0, 1, 50, zaptest.NewLogger(t)).HarvestTree(context.Background(), []int64{1, 2, 3})
	assert.Len(t, out, 3)
}

func TestHarvestTreeDropsDeletedSubtree(t *testing.T) {
	feed := newFakeFeed()
	feed.comment(1, 100, "alive")
	feed.items[2] = &models.RawItem{ID: 2, Type: "comment", Deleted: true, Kids: []int64{20}}
	feed.items[3] = &models.RawItem{ID: 3, Type: "comment", Dead: true}
	feed.comment(20, 2, "orphan")

	out := newHarvester(feed, 0, 1, 50, zaptest.NewLogger(t)).HarvestTree(context.Background(), []int64{1, 2, 3})
	require.Len(t, out, 1)
	assert.Equal(t, "1", out[0].ID)
	assert.Zero(t, feed.fetched(20))
}

func TestHarvestTreeRejectsCycles(t *testing.T) {
	feed := newFakeFeed()
	feed.comment(1, 100, "self", 1, 2)
	feed.comment(2, 1, "back", 1)

	out := newHarvester(feed, 0, 1, 50, zaptest.NewLogger(t)).HarvestTree(context.Background(), []int64{1, 1})
	assert.Len(t, out, 2)
	assert.Equal(t, 1, feed.fetched(1))
}

func TestHarvestTreeDepthCap(t *testing.T) {
	feed := newFakeFeed()
	const chain = 60
	for i := int64(1); i <= chain; i++ {
		var kids []int64
		if i < chain {
			kids = []int64{i + 1}
		}
		feed.comment(i, i-1, "level", kids...)
	}

	out := newHarvester(feed, 0, 1, 50, zaptest.NewLogger(t)).HarvestTree(context.Background(), []int64{1})
	assert.Len(t, out, 50)
	assert.Zero(t, feed.fetched(51))
}

func TestHarvestTreeParallelMatchesSequential(t *testing.T) {
	feed := newFakeFeed()
	var roots []int64
	for i := int64(1); i <= 12; i++ {
		feed.comment(i, 100, "c", i+100)
		feed.comment(i+100, i, "r")
		roots = append(roots, i)
	}

	seq := newHarvester(feed, 0, 1, 50, zaptest.NewLogger(t)).HarvestTree(context.Background(), roots)
	par := newHarvester(feed, 0, 4, 50, zaptest.NewLogger(t)).HarvestTree(context.Background(), roots)
	assert.Equal(t, seq, par)
	assert.Len(t, par, 24)
}

func TestHarvestTreeStopsOnCancel(t *testing.T) {
	feed := newFakeFeed()
	feed.comment(1, 100, "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := newHarvester(feed, 0, 1, 50, zaptest.NewLogger(t)).HarvestTree(ctx, []int64{1})
	assert.Empty(t, out)
}

func TestHarvestTreeDefaultsMissingAuthor(t *testing.T) {
	feed := newFakeFeed()
	feed.comment(1, 100, "anonymous")
	feed.items[1].By = ""
	feed.comment(2, 100, "named")

	out := newHarvester(feed, 0, 1, 50, zaptest.NewLogger(t)).HarvestTree(context.Background(), []int64{1, 2})
	require.Len(t, out, 2)
	assert.Equal(t, DeletedAuthor, out[0].Author)
	assert.Equal(t, "user2", out[1].Author)
}

func TestHarvestTreeLimiterIsPerCall(t *testing.T) {
	feed := newFakeFeed()
	feed.comment(1, 100, "a")
	feed.comment(2, 200, "b")
	h := newHarvester(feed, 2*time.Second, 1, 50, zaptest.NewLogger(t))

	require.Len(t, h.HarvestTree(context.Background(), []int64{1}), 1)
	start := time.Now()
	require.Len(t, h.HarvestTree(context.Background(), []int64{2}), 1)
	assert.Less(t, time.Since(start), time.Second, "second story must not wait for the first story's budget")
}
