package highlight

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	batches [][]*Notification
}

func (d *recordingDispatcher) Deliver(ctx context.Context, notifications []*Notification) {
	d.mu.Lock()
	d.batches = append(d.batches, notifications)
	d.mu.Unlock()
}

func (d *recordingDispatcher) all() []*Notification {
	d.mu.Lock()
	defer d.mu.Unlock()

	var result []*Notification
	for _, b := range d.batches {
		result = append(result, b...)
	}
	return result
}

type finderFixture struct {
	source     *fakePhraseSource
	blocks     *fakeBlockSource
	dispatcher *recordingDispatcher
	finder     *Finder
	index      *IndexManager
}

func newFinderFixture(t *testing.T, phrases []StoredHighlight) *finderFixture {
	t.Helper()

	source := newFakePhraseSource()
	source.set(1, phrases)

	index := NewIndexManager(source)
	require.NoError(t, index.Refresh(context.Background(), 1))

	blocks := &fakeBlockSource{blocks: make(map[int64][]Block)}
	dispatcher := &recordingDispatcher{}

	finder := NewFinder(
		index,
		NewBlockFilter(blocks, &fakeResolver{}),
		NewCooldownTracker(30*time.Second),
		dispatcher,
	)

	return &finderFixture{
		source:     source,
		blocks:     blocks,
		dispatcher: dispatcher,
		finder:     finder,
		index:      index,
	}
}

func guildMessage(authorID int64, content string, ts time.Time) *MatchEvent {
	return &MatchEvent{
		GuildID:   1,
		ChannelID: 200,
		AuthorID:  authorID,
		Content:   content,
		Timestamp: ts,
	}
}

func TestFinderDispatchesMatches(t *testing.T) {
	phrases := append(storedPhrases(10, "Rust"), storedPhrases(10, "rust lang")...)
	fix := newFinderFixture(t, phrases)

	evt := guildMessage(5, "I love Rust lang today", time.Now())
	fix.finder.HandleMessage(context.Background(), evt)

	notifications := fix.dispatcher.all()
	require.Len(t, notifications, 2)

	byPhrase := make(map[string]*Notification)
	for _, n := range notifications {
		byPhrase[n.Phrase] = n
		assert.EqualValues(t, 10, n.TargetUserID)
		assert.EqualValues(t, 1, n.GuildID)
		assert.EqualValues(t, 200, n.ChannelID)
		assert.Same(t, evt, n.Event)
	}

	require.Contains(t, byPhrase, "Rust")
	require.Contains(t, byPhrase, "rust lang")
	assert.Equal(t, "Rust", evt.Content[byPhrase["Rust"].Start:byPhrase["Rust"].End])
	assert.Equal(t, "Rust lang", evt.Content[byPhrase["rust lang"].Start:byPhrase["rust lang"].End])
}

func TestFinderNoMatchesNoDispatch(t *testing.T) {
	fix := newFinderFixture(t, storedPhrases(10, "cat"))

	fix.finder.HandleMessage(context.Background(), guildMessage(5, "nothing relevant", time.Now()))
	assert.Len(t, fix.dispatcher.batches, 0)
}

func TestFinderSelfSuppression(t *testing.T) {
	fix := newFinderFixture(t, storedPhrases(10, "cat"))

	// the phrase owner posts a message containing their own phrase
	fix.finder.HandleMessage(context.Background(), guildMessage(10, "my cat is great", time.Now()))
	assert.Len(t, fix.dispatcher.batches, 0)

	// someone else posting it still notifies
	fix.finder.HandleMessage(context.Background(), guildMessage(5, "your cat is great", time.Now()))
	assert.Len(t, fix.dispatcher.all(), 1)
}

func TestFinderBlockSuppression(t *testing.T) {
	fix := newFinderFixture(t, storedPhrases(10, "cat"))
	fix.blocks.blocks[10] = []Block{{UserID: 10, Entity: 200, Kind: EntityChannel}}

	// channel 200 is blocked, regardless of author or phrase
	fix.finder.HandleMessage(context.Background(), guildMessage(5, "a cat!", time.Now()))
	assert.Len(t, fix.dispatcher.batches, 0)

	// the same phrase from an unblocked channel goes through
	evt := guildMessage(5, "a cat!", time.Now())
	evt.ChannelID = 201
	fix.finder.HandleMessage(context.Background(), evt)
	assert.Len(t, fix.dispatcher.all(), 1)
}

func TestFinderCooldown(t *testing.T) {
	fix := newFinderFixture(t, storedPhrases(10, "cat"))
	base := time.Now()

	fix.finder.HandleMessage(context.Background(), guildMessage(5, "cat one", base))
	fix.finder.HandleMessage(context.Background(), guildMessage(6, "cat two", base.Add(10*time.Second)))
	assert.Len(t, fix.dispatcher.all(), 1, "second matching message inside the window is suppressed")

	fix.finder.HandleMessage(context.Background(), guildMessage(6, "cat three", base.Add(40*time.Second)))
	assert.Len(t, fix.dispatcher.all(), 2, "a message past the window notifies again")
}

func TestFinderRepeatedPhraseSingleCandidate(t *testing.T) {
	fix := newFinderFixture(t, storedPhrases(10, "cat"))

	fix.finder.HandleMessage(context.Background(), guildMessage(5, "cat cat cat", time.Now()))

	notifications := fix.dispatcher.all()
	require.Len(t, notifications, 1)
	// first occurrence wins the span
	assert.Equal(t, 0, notifications[0].Start)
	assert.Equal(t, 3, notifications[0].End)
}

func TestFinderSharedPhraseNotifiesEachOwner(t *testing.T) {
	phrases := append(storedPhrases(10, "cat"), storedPhrases(20, "cat")...)
	fix := newFinderFixture(t, phrases)

	fix.finder.HandleMessage(context.Background(), guildMessage(5, "a cat!", time.Now()))

	notifications := fix.dispatcher.all()
	require.Len(t, notifications, 2)
	targets := []int64{notifications[0].TargetUserID, notifications[1].TargetUserID}
	assert.Contains(t, targets, int64(10))
	assert.Contains(t, targets, int64(20))
}

func TestFinderNoSnapshotRequestsRebuild(t *testing.T) {
	source := newFakePhraseSource()
	source.set(99, storedPhrases(10, "cat"))
	index := NewIndexManager(source)
	dispatcher := &recordingDispatcher{}

	finder := NewFinder(
		index,
		NewBlockFilter(&fakeBlockSource{blocks: make(map[int64][]Block)}, &fakeResolver{}),
		NewCooldownTracker(30*time.Second),
		dispatcher,
	)

	evt := guildMessage(5, "a cat!", time.Now())
	evt.GuildID = 99
	finder.HandleMessage(context.Background(), evt)
	assert.Len(t, dispatcher.batches, 0)

	// the message queued a rebuild, once a worker runs it the next
	// message matches
	stop := make(chan struct{})
	defer close(stop)
	go index.Run(stop)

	deadline := time.Now().Add(5 * time.Second)
	for index.Current(99) == nil {
		if time.Now().After(deadline) {
			t.Fatal("rebuild was never serviced")
		}
		time.Sleep(5 * time.Millisecond)
	}

	evt2 := guildMessage(5, "a cat again!", time.Now())
	evt2.GuildID = 99
	finder.HandleMessage(context.Background(), evt2)
	assert.Len(t, dispatcher.all(), 1)
}

func TestFinderCategoryBlock(t *testing.T) {
	fix := newFinderFixture(t, storedPhrases(10, "cat"))
	fix.blocks.blocks[10] = []Block{{UserID: 10, Entity: 300, Kind: EntityCategory}}

	evt := guildMessage(5, "a cat!", time.Now())
	evt.CategoryID = null.Int64From(300)
	fix.finder.HandleMessage(context.Background(), evt)
	assert.Len(t, fix.dispatcher.batches, 0)

	evt2 := guildMessage(5, "another cat!", time.Now().Add(time.Minute))
	evt2.CategoryID = null.Int64From(301)
	fix.finder.HandleMessage(context.Background(), evt2)
	assert.Len(t, fix.dispatcher.all(), 1)
}
