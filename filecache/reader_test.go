/***************************************************************
 *
 * Copyright (C) 2025, PhotoCache Project
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package filecache

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRangeServesExactWindow(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	body := testBody(100_000)
	require.NoError(t, os.WriteFile(store.BlobPath("media-1"), body, 0600))

	reader, err := store.OpenRange("media-1", 25_000, 50_000)
	require.NoError(t, err)
	defer reader.Close()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, 50_000, len(got))
	assert.True(t, bytes.Equal(body[25_000:75_000], got))
}

func TestOpenRangeStampsAccessTime(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.BlobPath("media-1"), testBody(1000), 0600))

	reader, err := store.OpenRange("media-1", 0, 1000)
	require.NoError(t, err)
	defer reader.Close()

	entry := store.Lookup("media-1")
	require.NotNil(t, entry)
	assert.False(t, entry.Status().LastAccess.IsZero())
}

func TestReaderStopsAtFrontierSnapshot(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	body := testBody(10_000)
	require.NoError(t, os.WriteFile(store.BlobPath("media-1"), body, 0600))

	// Open a 4k window, then grow the blob as a worker would.
	reader, err := store.OpenRange("media-1", 0, 4_000)
	require.NoError(t, err)
	defer reader.Close()

	fp, err := os.OpenFile(store.BlobPath("media-1"), os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = fp.Write(testBody(5_000))
	require.NoError(t, err)
	require.NoError(t, fp.Close())

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, 4_000, len(got))
}

func TestReaderErrorsOnTruncatedBlob(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.BlobPath("media-1"), testBody(2_000), 0600))

	// Promise more bytes than are on disk.
	reader, err := store.OpenRange("media-1", 0, 5_000)
	require.NoError(t, err)
	defer reader.Close()

	_, err = io.ReadAll(reader)
	assert.Error(t, err)
}

func TestOpenRangeMissingBlob(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.OpenRange("nothing", 0, 100)
	assert.Error(t, err)
}
