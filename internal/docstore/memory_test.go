package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recordingPublisher) Publish(_ context.Context, c Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return nil
}

func TestSetAndGetVersions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := Main("u1", "finance")

	_, err := s.Get(ctx, p)
	require.ErrorIs(t, err, ErrNotFound)

	doc, err := s.Set(ctx, p, map[string]any{"vehicles": []string{}}, MustNotExist)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)

	_, err = s.Set(ctx, p, map[string]any{}, MustNotExist)
	require.ErrorIs(t, err, ErrVersionConflict)

	doc, err = s.Set(ctx, p, map[string]any{"vehicles": []string{"a"}}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)

	_, err = s.Set(ctx, p, map[string]any{}, 1)
	require.ErrorIs(t, err, ErrVersionConflict)

	got, err := s.Get(ctx, p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"vehicles":["a"]}`, string(got.Data))
}

func TestMergeKeepsOtherKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := Main("u1", "university")

	_, err := s.Set(ctx, p, map[string]any{"subjects": []int{1}, "is_public": false}, AnyVersion)
	require.NoError(t, err)

	doc, err := s.Merge(ctx, p, map[string]any{"is_public": true}, AnyVersion)
	require.NoError(t, err)
	assert.JSONEq(t, `{"subjects":[1],"is_public":true}`, string(doc.Data))
}

func TestUpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := Main("u1", "diary")

	type counter struct {
		Items []int `json:"items"`
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := UpdateInto(ctx, s, p, func(c *counter) error {
				c.Items = append(c.Items, i)
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, version, err := Load[counter](ctx, s, p)
	require.NoError(t, err)
	assert.Len(t, got.Items, 50)
	assert.Equal(t, int64(50), version)
}

func TestUpdateErrorLeavesDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := Main("u1", "diary")
	_, err := s.Set(ctx, p, map[string]int{"n": 1}, AnyVersion)
	require.NoError(t, err)

	boom := fmt.Errorf("boom")
	_, err = s.Update(ctx, p, func(json.RawMessage) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	doc, err := s.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
}

func TestListOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, id := range []string{"c", "a", "b"} {
		_, err := s.Set(ctx, Item("u1", "logbook", "trips", id), map[string]string{"name": id}, AnyVersion)
		require.NoError(t, err)
	}
	_, err := s.Set(ctx, Item("u1", "logbook", "tracks", "x"), map[string]string{}, AnyVersion)
	require.NoError(t, err)

	type trip struct {
		ID   string `json:"-"`
		Name string `json:"name"`
	}
	trips, err := ListInto(ctx, s, Collection("u1", "logbook", "trips"), func(id string, t *trip) { t.ID = id })
	require.NoError(t, err)
	require.Len(t, trips, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{trips[0].ID, trips[1].ID, trips[2].ID})
}

func TestBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	existing := Item("u1", "logbook", "trips", "t1")
	_, err := s.Set(ctx, existing, map[string]string{}, AnyVersion)
	require.NoError(t, err)

	_, err = s.Batch(ctx, []Write{
		{Path: Item("u1", "logbook", "trips", "t2"), Op: OpSet, Data: map[string]string{}, ExpectedVersion: MustNotExist},
		{Path: existing, Op: OpSet, Data: map[string]string{}, ExpectedVersion: MustNotExist},
	})
	require.ErrorIs(t, err, ErrVersionConflict)

	_, err = s.Get(ctx, Item("u1", "logbook", "trips", "t2"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAndDeletePrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Set(ctx, Main("u1", "diary"), map[string]any{}, AnyVersion)
	_, _ = s.Set(ctx, Item("u1", "logbook", "trips", "t1"), map[string]any{}, AnyVersion)
	_, _ = s.Set(ctx, Main("u10", "diary"), map[string]any{}, AnyVersion)

	require.ErrorIs(t, s.Delete(ctx, Main("u2", "diary"), AnyVersion), ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, Main("u1", "diary"), 7), ErrVersionConflict)

	n, err := s.DeletePrefix(ctx, UserPrefix("u1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Get(ctx, Main("u10", "diary"))
	assert.NoError(t, err)
}

func TestNotifyingStorePublishes(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	s := WithPublisher(NewMemoryStore(), pub)
	p := Main("u1", "diary")

	_, err := s.Set(ctx, p, map[string]int{"n": 1}, AnyVersion)
	require.NoError(t, err)
	_, err = s.Set(ctx, p, map[string]int{"n": 2}, 5)
	require.Error(t, err)
	require.NoError(t, s.Delete(ctx, p, AnyVersion))

	require.Len(t, pub.changes, 2)
	assert.Equal(t, OpSet, pub.changes[0].Op)
	assert.Equal(t, int64(1), pub.changes[0].Version)
	assert.JSONEq(t, `{"n":1}`, string(pub.changes[0].Data))
	assert.Equal(t, OpDelete, pub.changes[1].Op)
	assert.Empty(t, pub.changes[1].Data)
}

func TestSweepRemovesStaleItems(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return old }
	_, _ = s.Set(ctx, Item("u1", "logbook", "drafts", "d1"), map[string]any{}, AnyVersion)
	_, _ = s.Set(ctx, Item("u2", "logbook", "drafts", "d2"), map[string]any{}, AnyVersion)
	_, _ = s.Set(ctx, Item("u1", "logbook", "trips", "t1"), map[string]any{}, AnyVersion)

	s.now = time.Now
	_, _ = s.Set(ctx, Item("u1", "logbook", "drafts", "fresh"), map[string]any{}, AnyVersion)

	n, err := s.Sweep(ctx, "logbook", "drafts", old.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Get(ctx, Item("u1", "logbook", "trips", "t1"))
	assert.NoError(t, err)
	_, err = s.Get(ctx, Item("u1", "logbook", "drafts", "fresh"))
	assert.NoError(t, err)
}
