package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/dDB/lib/common"
	"github.com/ValentinKolb/dDB/lib/docstore"
	"github.com/ValentinKolb/dDB/lib/index"
	"github.com/ValentinKolb/dDB/lib/rid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dir string) common.DatabaseConfig {
	cfg := common.DefaultDatabaseConfig()
	cfg.DataDir = dir
	cfg.Shards = 2
	cfg.PageSize = 4
	cfg.LogLevel = "error"
	return cfg
}

func byName(automatic bool) IndexDefinition {
	return IndexDefinition{
		Name:       "byName",
		Type:       index.NotUnique,
		Field:      "name",
		Partitions: []string{"Person"},
		Automatic:  automatic,
	}
}

func save(t *testing.T, d *Database, partition string, fields map[string]any) *docstore.Document {
	t.Helper()
	doc := docstore.NewDocument(fields)
	require.NoError(t, d.Documents().Save(partition, doc))
	return doc
}

func TestOpen(t *testing.T) {
	t.Run("InMemory", func(t *testing.T) {
		d, err := Open(testConfig(""))
		require.NoError(t, err)
		assert.NotEmpty(t, d.ID)
		assert.Empty(t, d.Indexes())
		require.NoError(t, d.Sync())
		require.NoError(t, d.Close())
		require.NoError(t, d.Close(), "second close is a no-op")
		assert.ErrorIs(t, d.Sync(), ErrClosed)
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		cfg := testConfig("")
		cfg.Compression = "snappy"
		_, err := Open(cfg)
		assert.Error(t, err)
	})
}

func TestIndexManagement(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateBuildsFromExistingDocuments", func(t *testing.T) {
		d, err := Open(testConfig(""))
		require.NoError(t, err)
		defer d.Close()

		require.NoError(t, d.Documents().CreatePartition("Person"))
		ada := save(t, d, "Person", map[string]any{"name": "Ada"})
		save(t, d, "Person", map[string]any{"name": "Bob"})
		save(t, d, "Person", map[string]any{"age": 3})

		ix, res, err := d.CreateIndex(ctx, byName(true), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3), res.Scanned)
		assert.Equal(t, int64(2), res.Indexed)

		refs, err := ix.Get("Ada")
		require.NoError(t, err)
		assert.Equal(t, []rid.RID{ada.Identity()}, refs.IDs())
		assert.Equal(t, []string{"byName"}, d.Indexes())

		got, err := d.Index("byName")
		require.NoError(t, err)
		assert.Same(t, ix, got)
	})

	t.Run("AutomaticIndexFollowsDocuments", func(t *testing.T) {
		d, err := Open(testConfig(""))
		require.NoError(t, err)
		defer d.Close()

		ix, _, err := d.CreateIndex(ctx, byName(true), nil)
		require.NoError(t, err)

		doc := save(t, d, "Person", map[string]any{"name": "Cleo"})
		size, err := ix.Size()
		require.NoError(t, err)
		assert.Equal(t, 1, size)

		doc.Set("name", "Dora")
		require.NoError(t, d.Documents().Save("Person", doc))
		refs, err := ix.Get("Cleo")
		require.NoError(t, err)
		assert.Equal(t, 0, refs.Len())
		refs, err = ix.Get("Dora")
		require.NoError(t, err)
		assert.True(t, refs.Contains(doc))

		require.NoError(t, d.Documents().Delete(doc))
		size, err = ix.Size()
		require.NoError(t, err)
		assert.Equal(t, 0, size)
	})

	t.Run("DuplicateName", func(t *testing.T) {
		d, err := Open(testConfig(""))
		require.NoError(t, err)
		defer d.Close()

		_, _, err = d.CreateIndex(ctx, byName(false), nil)
		require.NoError(t, err)
		_, _, err = d.CreateIndex(ctx, byName(false), nil)
		assert.ErrorIs(t, err, ErrIndexExists)
	})

	t.Run("EmptyField", func(t *testing.T) {
		d, err := Open(testConfig(""))
		require.NoError(t, err)
		defer d.Close()

		def := byName(false)
		def.Field = ""
		_, _, err = d.CreateIndex(ctx, def, nil)
		assert.ErrorIs(t, err, index.ErrInvalidArgument)
	})

	t.Run("FailedBuildLeavesNoIndex", func(t *testing.T) {
		d, err := Open(testConfig(""))
		require.NoError(t, err)
		defer d.Close()

		require.NoError(t, d.Documents().CreatePartition("Person"))
		save(t, d, "Person", map[string]any{"name": "Ada"})
		save(t, d, "Person", map[string]any{"name": "Ada"})

		def := byName(true)
		def.Type = index.Unique
		_, _, err = d.CreateIndex(ctx, def, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, index.ErrIndexBuild)

		var buildErr *index.BuildError
		require.True(t, errors.As(err, &buildErr))
		assert.ErrorIs(t, buildErr.Err, index.ErrDuplicateKey)

		assert.Empty(t, d.Indexes())
		_, err = d.Index("byName")
		assert.ErrorIs(t, err, ErrIndexNotFound)

		// the name is free again
		_, _, err = d.CreateIndex(ctx, byName(false), nil)
		assert.NoError(t, err)
	})

	t.Run("Drop", func(t *testing.T) {
		d, err := Open(testConfig(""))
		require.NoError(t, err)
		defer d.Close()

		ix, _, err := d.CreateIndex(ctx, byName(true), nil)
		require.NoError(t, err)
		require.NoError(t, d.DropIndex("byName"))
		assert.False(t, ix.Identity().IsValid())
		assert.Empty(t, d.Indexes())
		assert.ErrorIs(t, d.DropIndex("byName"), ErrIndexNotFound)

		// a dropped automatic index no longer receives events
		save(t, d, "Person", map[string]any{"name": "Eve"})
	})

	t.Run("Hooks", func(t *testing.T) {
		d, err := Open(testConfig(""))
		require.NoError(t, err)
		defer d.Close()

		_, _, err = d.CreateIndex(ctx, byName(true), nil)
		require.NoError(t, err)
		save(t, d, "Person", map[string]any{"name": "Ada"})

		v, ok := d.Hooks().Value("index.byName.items")
		require.True(t, ok)
		assert.Equal(t, 1, v)
		v, ok = d.Hooks().Value("db.indexes")
		require.True(t, ok)
		assert.Equal(t, 1, v)
		assert.Contains(t, d.Hooks().Dump(), "index.byName.items")
	})
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	d, err := Open(testConfig(dir))
	require.NoError(t, err)
	require.NoError(t, d.Documents().CreatePartition("Person"))
	ada := save(t, d, "Person", map[string]any{"name": "Ada"})
	_, _, err = d.CreateIndex(ctx, byName(true), nil)
	require.NoError(t, err)
	bob := save(t, d, "Person", map[string]any{"name": "Bob"})
	require.NoError(t, d.Close())

	_, err = os.Stat(filepath.Join(dir, SnapshotFile))
	require.NoError(t, err)
	matches, err := filepath.Glob(filepath.Join(dir, SnapshotFile+".*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary snapshot files are removed")

	d, err = Open(testConfig(dir))
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, []string{"byName"}, d.Indexes())
	ix, err := d.Index("byName")
	require.NoError(t, err)
	assert.True(t, ix.IsAutomatic())
	assert.Equal(t, []string{"Person"}, ix.Partitions())

	refs, err := ix.Get("Ada")
	require.NoError(t, err)
	assert.Equal(t, []rid.RID{ada.Identity()}, refs.IDs())
	refs, err = ix.Get("Bob")
	require.NoError(t, err)
	assert.Equal(t, []rid.RID{bob.Identity()}, refs.IDs())

	loaded, err := d.Documents().Load(ada.Identity())
	require.NoError(t, err)
	name, _ := loaded.Field("name")
	assert.Equal(t, "Ada", name)

	// restored automatic indexes keep following the documents
	cleo := save(t, d, "Person", map[string]any{"name": "Cleo"})
	assert.NotEqual(t, bob.Identity(), cleo.Identity())
	refs, err = ix.Get("Cleo")
	require.NoError(t, err)
	assert.True(t, refs.Contains(cleo))
}

func TestDropDatabase(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(testConfig(dir))
	require.NoError(t, err)
	_, _, err = d.CreateIndex(context.Background(), byName(false), nil)
	require.NoError(t, err)
	require.NoError(t, d.Sync())

	require.NoError(t, d.Drop())
	_, err = os.Stat(filepath.Join(dir, SnapshotFile))
	assert.True(t, os.IsNotExist(err))
	assert.ErrorIs(t, d.Drop(), ErrClosed)

	d, err = Open(testConfig(dir))
	require.NoError(t, err)
	defer d.Close()
	assert.Empty(t, d.Indexes())
}
