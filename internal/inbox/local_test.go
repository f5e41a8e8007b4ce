package inbox_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"voice2action/internal/inbox"
	"voice2action/internal/services"
	"voice2action/internal/testsupport"
)

func TestLocalListFiltersByExtension(t *testing.T) {
	dir := t.TempDir()
	testsupport.DropRecording(t, dir, "a.wav")
	testsupport.DropRecording(t, dir, "b.MP3")
	testsupport.DropRecording(t, dir, "c.txt")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.wav"), 0o755))

	files, err := inbox.NewLocalProvider(nil).List(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "a.wav", files[0].ID)
	require.Equal(t, "a.wav", files[0].Name)
	require.Equal(t, "b.MP3", files[1].ID)
	require.NotNil(t, files[0].Size)
	require.EqualValues(t, 256, *files[0].Size)
}

func TestLocalListCreatesMissingFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-yet")
	files, err := inbox.NewLocalProvider(nil).List(context.Background(), dir)
	require.NoError(t, err)
	require.Empty(t, files)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestLocalListNormalizesIDs(t *testing.T) {
	dir := t.TempDir()
	decomposed := "re\u0301union.wav"
	testsupport.DropRecording(t, dir, decomposed)

	files, err := inbox.NewLocalProvider(nil).List(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "r\u00e9union.wav", files[0].ID)
	require.Equal(t, decomposed, files[0].Name)
}

func TestLocalFetchAndArchive(t *testing.T) {
	base := t.TempDir()
	inboxDir := filepath.Join(base, "inbox")
	archiveDir := filepath.Join(base, "archive")
	workDir := filepath.Join(base, "work")
	testsupport.DropRecording(t, inboxDir, "sample.wav")
	// A stale archived copy is overwritten.
	testsupport.WriteFile(t, filepath.Join(archiveDir, "sample.wav"), 3)

	provider := inbox.NewLocalProvider(nil)
	ref := inbox.FileReference{ID: "sample.wav", Name: "sample.wav"}
	ctx := context.Background()

	path, err := provider.Fetch(ctx, inbox.FetchRequest{File: ref, SourceFolder: inboxDir, DestDir: workDir})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(workDir, "sample.wav"), path)
	require.True(t, testsupport.FileExists(path))
	require.True(t, testsupport.FileExists(filepath.Join(inboxDir, "sample.wav")), "fetch copies, not moves")

	dst, err := provider.Archive(ctx, inbox.ArchiveRequest{File: ref, SourceFolder: inboxDir, ArchiveFolder: archiveDir})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(archiveDir, "sample.wav"), dst)
	require.False(t, testsupport.FileExists(filepath.Join(inboxDir, "sample.wav")))
	info, err := os.Stat(dst)
	require.NoError(t, err)
	require.EqualValues(t, 256, info.Size())

	again, err := provider.Archive(ctx, inbox.ArchiveRequest{File: ref, SourceFolder: inboxDir, ArchiveFolder: archiveDir})
	require.NoError(t, err, "repeating an archive after it completed succeeds")
	require.Equal(t, dst, again)
}

func TestLocalFetchMissingFileIsNotFound(t *testing.T) {
	base := t.TempDir()
	_, err := inbox.NewLocalProvider(nil).Fetch(context.Background(), inbox.FetchRequest{
		File:         inbox.FileReference{ID: "gone.wav", Name: "gone.wav"},
		SourceFolder: base,
		DestDir:      filepath.Join(base, "work"),
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, services.ErrNotFound))
	require.False(t, services.Retryable(err))
}

func TestFileReferenceValidate(t *testing.T) {
	require.NoError(t, inbox.FileReference{ID: "x", Name: "x.wav"}.Validate())
	require.ErrorIs(t, inbox.FileReference{Name: "x.wav"}.Validate(), services.ErrValidation)
	require.ErrorIs(t, inbox.FileReference{ID: "x", Name: "../x.wav"}.Validate(), services.ErrValidation)
}

func TestMimeType(t *testing.T) {
	mime, ok := inbox.MimeType("sample.wav")
	require.True(t, ok)
	require.Equal(t, "audio/x-wav", mime)
	mime, ok = inbox.MimeType("memo.MP3")
	require.True(t, ok)
	require.Equal(t, "audio/mpeg", mime)
	_, ok = inbox.MimeType("notes.txt")
	require.False(t, ok)
}
