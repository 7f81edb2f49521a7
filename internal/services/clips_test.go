package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipsync/clipsync/internal/common"
	"github.com/clipsync/clipsync/internal/models"
	"github.com/clipsync/clipsync/internal/remote"
)

func TestClipSaveRejectsEmptyText(t *testing.T) {
	e := newEnv(t)
	err := e.clips.Save(context.Background(), &models.Clip{Text: "   "})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestClipSaveCreatesRemoteDocument(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c := &models.Clip{Text: "hello", Title: "greeting"}
	require.NoError(t, e.clips.Save(ctx, c))

	assert.NotZero(t, c.LocalID)
	assert.NotEmpty(t, c.RemoteID)

	creates := e.docs.byKind("create")
	require.Len(t, creates, 1)
	assert.Equal(t, remote.CollectionClips, creates[0].Collection)
	assert.Equal(t, c.RemoteID, creates[0].ID)
	assert.Equal(t, "hello", creates[0].Fields[remote.ClipFieldText])
	assert.Contains(t, creates[0].Fields, remote.FieldChangeTimestamp)
}

func TestClipSaveOfflineStaysLocal(t *testing.T) {
	e := newEnv(t)
	e.sess.authorized = false

	c := &models.Clip{Text: "offline"}
	require.NoError(t, e.clips.Save(context.Background(), c))

	assert.Empty(t, c.RemoteID)
	assert.Empty(t, e.docs.byKind("create"))
}

func TestClipSaveQuotaKeepsExcessLocal(t *testing.T) {
	e := newEnv(t)
	e.sess.maxNotes = 1
	ctx := context.Background()

	first := &models.Clip{Text: "one"}
	require.NoError(t, e.clips.Save(ctx, first))
	require.NotEmpty(t, first.RemoteID)

	second := &models.Clip{Text: "two"}
	require.NoError(t, e.clips.Save(ctx, second))

	assert.Empty(t, second.RemoteID)
	assert.Len(t, e.docs.byKind("create"), 1)
}

func TestClipSaveFailedPushLeavesBacklog(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.docs.err = errors.New("service unavailable")
	c := &models.Clip{Text: "draft"}
	require.NoError(t, e.clips.Save(ctx, c))

	// the local row exists but carries no remote id, so it stays in
	// the unsynced backlog
	got, err := e.store.Clips.GetByID(ctx, c.LocalID)
	require.NoError(t, err)
	assert.Empty(t, got.RemoteID)

	pending, err := e.store.Clips.GetNotSynced(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, c.LocalID, pending[0].LocalID)

	e.docs.err = nil
	require.NoError(t, e.clips.SyncAll(ctx))

	got, err = e.store.Clips.GetByID(ctx, c.LocalID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.RemoteID)
}

func TestTrackedCaptureReusesMatchingClip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := &models.Clip{Text: "copied once", Tracked: true}
	require.NoError(t, e.clips.Save(ctx, first))

	// the same text captured again lands on the existing row
	second := &models.Clip{Text: "copied once", Tracked: true}
	require.NoError(t, e.clips.Save(ctx, second))
	assert.Equal(t, first.LocalID, second.LocalID)
	assert.Equal(t, first.RemoteID, second.RemoteID)

	count, err := e.store.Clips.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Len(t, e.docs.byKind("create"), 1)

	// a manual save with identical text is a deliberate duplicate
	manual := &models.Clip{Text: "copied once"}
	require.NoError(t, e.clips.Save(ctx, manual))
	assert.NotEqual(t, first.LocalID, manual.LocalID)
}

func TestClipEditPushesFieldDiff(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	clock := time.UnixMilli(1700000000000)
	e.clips.now = func() time.Time { return clock }

	c := &models.Clip{Text: "body", Title: "old"}
	require.NoError(t, e.clips.Save(ctx, c))
	e.docs.reset()

	clock = clock.Add(time.Minute)
	c.Title = "new"
	require.NoError(t, e.clips.Save(ctx, c))

	updates := e.docs.byKind("update")
	require.Len(t, updates, 1)
	assert.Equal(t, c.RemoteID, updates[0].ID)
	assert.Equal(t, "new", updates[0].Fields[remote.ClipFieldTitle])
	// the changed field, the touched dates and the change cursor; nothing else
	assert.Len(t, updates[0].Fields, 4)
}

func TestClipSaveUnchangedIsNoop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c := &models.Clip{Text: "stable", Title: "same"}
	require.NoError(t, e.clips.Save(ctx, c))
	e.docs.reset()

	again, err := e.store.Clips.GetByID(ctx, c.LocalID)
	require.NoError(t, err)
	require.NoError(t, e.clips.Save(ctx, again))

	assert.Empty(t, e.docs.byKind("create"))
	assert.Empty(t, e.docs.byKind("update"))
}

func TestClipSaveMaintainsTagCounters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tag := &models.Filter{UID: "tag-1", Type: models.FilterTypeTag, Name: "work"}
	require.NoError(t, e.store.Filters.Save(ctx, tag))

	c := &models.Clip{Text: "tagged", TagIDs: []string{"tag-1"}}
	require.NoError(t, e.clips.Save(ctx, c))

	got, err := e.store.Filters.GetByUID(ctx, "tag-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.NotesCount)

	c.TagIDs = nil
	require.NoError(t, e.clips.Save(ctx, c))

	got, err = e.store.Filters.GetByUID(ctx, "tag-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.NotesCount)
}

func TestDeleteAllSoftThenUndo(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c := &models.Clip{Text: "bin me"}
	require.NoError(t, e.clips.Save(ctx, c))
	e.docs.reset()

	undoable, err := e.clips.DeleteAll(ctx, []int64{c.LocalID}, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{c.LocalID}, undoable)

	got, err := e.store.Clips.GetByID(ctx, c.LocalID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted())

	updates := e.docs.byKind("update")
	require.Len(t, updates, 1)
	assert.Contains(t, updates[0].Fields, remote.ClipFieldDeleteDate)

	e.docs.reset()
	require.NoError(t, e.clips.UndoDeleteAll(ctx, undoable))

	got, err = e.store.Clips.GetByID(ctx, c.LocalID)
	require.NoError(t, err)
	assert.False(t, got.IsDeleted())

	updates = e.docs.byKind("update")
	require.Len(t, updates, 1)
	assert.Nil(t, updates[0].Fields[remote.ClipFieldDeleteDate])
}

func TestDeleteAllPermanent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c := &models.Clip{Text: "gone"}
	require.NoError(t, e.clips.Save(ctx, c))
	remoteID := c.RemoteID
	e.docs.reset()

	_, err := e.clips.DeleteAll(ctx, []int64{c.LocalID}, true)
	require.NoError(t, err)

	_, err = e.store.Clips.GetByID(ctx, c.LocalID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	deletes := e.docs.byKind("delete")
	require.Len(t, deletes, 1)
	assert.Equal(t, remoteID, deletes[0].ID)
}

func TestRecycleBinTrimmedOldestFirst(t *testing.T) {
	e := newEnv(t)
	e.clips.recycleBinLimit = 1
	ctx := context.Background()

	clock := time.UnixMilli(1700000000000)
	e.clips.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first := &models.Clip{Text: "first"}
	second := &models.Clip{Text: "second"}
	require.NoError(t, e.clips.Save(ctx, first))
	require.NoError(t, e.clips.Save(ctx, second))

	_, err := e.clips.DeleteAll(ctx, []int64{first.LocalID}, false)
	require.NoError(t, err)
	_, err = e.clips.DeleteAll(ctx, []int64{second.LocalID}, false)
	require.NoError(t, err)

	bin, err := e.clips.GetRecycleBin(ctx)
	require.NoError(t, err)
	require.Len(t, bin, 1)
	assert.Equal(t, second.LocalID, bin[0].LocalID)

	_, err = e.store.Clips.GetByID(ctx, first.LocalID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestTagAllSharedAssignment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c1 := &models.Clip{Text: "one", TagIDs: []string{"a", "b"}}
	c2 := &models.Clip{Text: "two", TagIDs: []string{"a", "c"}}
	require.NoError(t, e.clips.Save(ctx, c1))
	require.NoError(t, e.clips.Save(ctx, c2))

	// "a" is shared and dropped from the assignment, "d" is newly
	// assigned; each clip's own tags survive.
	require.NoError(t, e.clips.TagAll(ctx, []int64{c1.LocalID, c2.LocalID}, []string{"d"}))

	got1, err := e.store.Clips.GetByID(ctx, c1.LocalID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "d"}, got1.TagIDs)

	got2, err := e.store.Clips.GetByID(ctx, c2.LocalID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c", "d"}, got2.TagIDs)

	// applying the same assignment again changes nothing
	before := len(e.docs.byKind("update"))
	require.NoError(t, e.clips.TagAll(ctx, []int64{c1.LocalID, c2.LocalID}, []string{"d"}))
	assert.Len(t, e.docs.byKind("update"), before)
}

func TestTagAllKeepingCommonSetIsNoop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c1 := &models.Clip{Text: "one", TagIDs: []string{"t1", "t2"}}
	c2 := &models.Clip{Text: "two", TagIDs: []string{"t2", "t3"}}
	require.NoError(t, e.clips.Save(ctx, c1))
	require.NoError(t, e.clips.Save(ctx, c2))
	e.docs.reset()

	// assigning exactly the shared set means the editor was confirmed
	// without touching anything, so neither clip changes
	require.NoError(t, e.clips.TagAll(ctx, []int64{c1.LocalID, c2.LocalID}, []string{"t2"}))

	got1, err := e.store.Clips.GetByID(ctx, c1.LocalID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2"}, got1.TagIDs)

	got2, err := e.store.Clips.GetByID(ctx, c2.LocalID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t2", "t3"}, got2.TagIDs)

	assert.Empty(t, e.docs.byKind("update"))
}

func TestFavAll(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c := &models.Clip{Text: "star me"}
	require.NoError(t, e.clips.Save(ctx, c))

	require.NoError(t, e.clips.FavAll(ctx, []int64{c.LocalID}, true))

	got, err := e.store.Clips.GetByID(ctx, c.LocalID)
	require.NoError(t, err)
	assert.True(t, got.Fav)
}

func TestSyncAllRequiresAuthorization(t *testing.T) {
	e := newEnv(t)
	e.sess.authorized = false
	err := e.clips.SyncAll(context.Background())
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestSyncAllPushesLocalClips(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.sess.authorized = false
	c1 := &models.Clip{Text: "local one"}
	c2 := &models.Clip{Text: "local two"}
	require.NoError(t, e.clips.Save(ctx, c1))
	require.NoError(t, e.clips.Save(ctx, c2))

	e.sess.authorized = true
	require.NoError(t, e.clips.SyncAll(ctx))

	assert.Len(t, e.docs.byKind("create"), 2)
	got, err := e.store.Clips.GetByID(ctx, c1.LocalID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.RemoteID)
}

func TestSyncAllEnforcesQuota(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.sess.authorized = false
	require.NoError(t, e.clips.Save(ctx, &models.Clip{Text: "one"}))
	require.NoError(t, e.clips.Save(ctx, &models.Clip{Text: "two"}))

	e.sess.authorized = true
	e.sess.maxNotes = 1
	err := e.clips.SyncAll(ctx)
	assert.ErrorIs(t, err, common.ErrQuotaExceeded)
}
