package mail

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadHashStable(t *testing.T) {
	h := ReadHash("/proj", "BlueLake", 42)
	require.Len(t, h, 12)
	require.Equal(t, h, ReadHash("/proj", "BlueLake", 42))
	require.NotEqual(t, h, ReadHash("/proj", "BlueLake", 43))
	require.NotEqual(t, h, ReadHash("/proj", "AmberPeak", 42))
}

func TestReadLogMarkAndUnread(t *testing.T) {
	log := NewReadLog(filepath.Join(t.TempDir(), "mail-read.jsonl"))

	messages := []InboxMessage{
		{ID: 1, Subject: "first"},
		{ID: 2, Subject: "second"},
		{ID: 3, Subject: "third"},
	}

	unread, err := log.Unread("/proj", "BlueLake", messages)
	require.NoError(t, err)
	require.Len(t, unread, 3)

	require.NoError(t, log.Mark("/proj", "BlueLake", messages[1]))
	// Marking twice is harmless.
	require.NoError(t, log.Mark("/proj", "BlueLake", messages[1]))

	unread, err = log.Unread("/proj", "BlueLake", messages)
	require.NoError(t, err)
	require.Len(t, unread, 2)
	require.Equal(t, 1, unread[0].ID)
	require.Equal(t, 3, unread[1].ID)

	// Read state is keyed per agent.
	unread, err = log.Unread("/proj", "AmberPeak", messages)
	require.NoError(t, err)
	require.Len(t, unread, 3)
}

func TestReadLogSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mail-read.jsonl")
	log := NewReadLog(path)
	require.NoError(t, log.Mark("/proj", "BlueLake", InboxMessage{ID: 7}))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	seen, err := log.Seen()
	require.NoError(t, err)
	require.Len(t, seen, 1)
	require.True(t, seen[ReadHash("/proj", "BlueLake", 7)])
}
