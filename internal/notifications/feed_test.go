package notifications

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/richxcame/driver-agent/internal/device"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingNotifier) Notify(_ context.Context, title, _ string, _ map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func TestAddPrependsAndNotifies(t *testing.T) {
	notifier := &recordingNotifier{}
	feed := NewFeed(storage.NewMemoryStore(), &device.Capabilities{Notifier: notifier})
	ctx := context.Background()

	require.NoError(t, feed.Add(ctx, Notification{ID: "n1", Title: "Welcome"}))
	require.NoError(t, feed.Add(ctx, Notification{ID: "n2", Title: "Weekly payout"}))

	items, err := feed.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "n2", items[0].ID)
	assert.False(t, items[0].CreatedAt.IsZero())
	assert.Equal(t, []string{"Welcome", "Weekly payout"}, notifier.titles)
}

func TestAddIgnoresDuplicates(t *testing.T) {
	feed := NewFeed(storage.NewMemoryStore(), nil)
	ctx := context.Background()
	var added int
	feed.OnAdded(func(Notification) { added++ })

	require.NoError(t, feed.Add(ctx, Notification{ID: "n1"}))
	require.NoError(t, feed.Add(ctx, Notification{ID: "n1"}))

	items, _ := feed.List(ctx)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, added)
}

func TestAddRequiresID(t *testing.T) {
	feed := NewFeed(storage.NewMemoryStore(), nil)
	assert.ErrorIs(t, feed.Add(context.Background(), Notification{}), common.ErrValidation)
}

func TestFeedIsBounded(t *testing.T) {
	feed := NewFeed(storage.NewMemoryStore(), nil)
	ctx := context.Background()
	for i := 0; i < MaxItems+5; i++ {
		require.NoError(t, feed.Add(ctx, Notification{ID: fmt.Sprintf("n%d", i)}))
	}

	items, err := feed.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, MaxItems)
	assert.Equal(t, fmt.Sprintf("n%d", MaxItems+4), items[0].ID)
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	feed := NewFeed(storage.NewMemoryStore(), nil)
	ctx := context.Background()
	require.NoError(t, feed.Add(ctx, Notification{ID: "n1"}))
	require.NoError(t, feed.Add(ctx, Notification{ID: "n2"}))

	count, err := feed.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, feed.MarkRead(ctx, "n1"))
	count, _ = feed.UnreadCount(ctx)
	assert.Equal(t, 1, count)

	assert.ErrorIs(t, feed.MarkRead(ctx, "missing"), common.ErrNotFound)

	require.NoError(t, feed.MarkAllRead(ctx))
	count, _ = feed.UnreadCount(ctx)
	assert.Equal(t, 0, count)
}

func TestFeedPersistsAcrossInstances(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	first := NewFeed(store, nil)
	require.NoError(t, first.Add(ctx, Notification{ID: "n1", Title: "Saved", CreatedAt: created}))
	require.NoError(t, first.MarkRead(ctx, "n1"))

	second := NewFeed(store, nil)
	items, err := second.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Saved", items[0].Title)
	assert.True(t, items[0].Read)
	assert.True(t, created.Equal(items[0].CreatedAt))
}
