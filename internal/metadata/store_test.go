package metadata

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cpe/internal/packet"
)

func testManifest(packetID, version string, docs int) packet.Manifest {
	return packet.Manifest{
		SchemaVersion: packet.SchemaVersion,
		PacketID:      packetID,
		Version:       version,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
		Embedding:     packet.EmbeddingInfo{Model: "test-model", Dim: 8, Dtype: "float16"},
		Counts:        packet.Counts{Docs: docs, Vectors: docs},
	}
}

func TestStore_RecordAndLatest(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "metadata.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	m := testManifest("demo", "v1", 10)
	lock := packet.Lockfile{SchemaVersion: packet.SchemaVersion, CreatedAt: m.CreatedAt}

	require.NoError(t, store.RecordBuild(ctx, m, lock))

	latest, err := store.Latest(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "v1", latest.Version)
	assert.Equal(t, 10, latest.Manifest.Counts.Docs)
}

func TestStore_HistoryOrdersOldestFirst(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "metadata.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, v := range []string{"v1", "v2", "v3"} {
		m := testManifest("demo", v, i+1)
		m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.RecordBuild(ctx, m, packet.Lockfile{CreatedAt: m.CreatedAt}))
	}

	history, err := store.History(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{"v1", "v2", "v3"}, []string{history[0].Version, history[1].Version, history[2].Version})
}

func TestStore_RecordBuildUpsertsSameVersion(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "metadata.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	m := testManifest("demo", "v1", 5)
	require.NoError(t, store.RecordBuild(ctx, m, packet.Lockfile{CreatedAt: m.CreatedAt}))

	m.Counts.Docs = 9
	require.NoError(t, store.RecordBuild(ctx, m, packet.Lockfile{CreatedAt: m.CreatedAt}))

	history, err := store.History(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 9, history[0].Manifest.Counts.Docs)
}

func TestStore_Packets(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "metadata.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.RecordBuild(ctx, testManifest("alpha", "v1", 1), packet.Lockfile{}))
	require.NoError(t, store.RecordBuild(ctx, testManifest("beta", "v1", 1), packet.Lockfile{}))

	packets, err := store.Packets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, packets)
}

func TestStore_LatestUnknownPacketErrors(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "metadata.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Latest(context.Background(), "nope")
	assert.Error(t, err)
}

func TestOpen_RejectsEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
