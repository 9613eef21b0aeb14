package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")

	db, err := Open(path)
	require.NoError(t, err)

	accounts := []Account{
		{ID: 1, Username: "alice", ServerHash: []byte("hash-a"), ClientPrefix: "$p5$04$AAAAAAAAAAAAAAAAAAAAAA"},
		{ID: 2, Username: "bob", ServerHash: []byte("hash-b"), ClientPrefix: "$p5$04$BBBBBBBBBBBBBBBBBBBBBB"},
	}
	messages := []Message{
		{ID: 1, SenderID: 1, RecipientID: 2, Body: "hello", Delivered: true},
		{ID: 2, SenderID: 2, RecipientID: 1, Body: "hi back"},
	}
	require.NoError(t, db.Snapshot(accounts, messages))
	require.NoError(t, db.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	gotAccounts, gotMessages, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, accounts, gotAccounts)
	assert.Equal(t, messages, gotMessages)
}

func TestSnapshotReplacesPreviousState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Snapshot(
		[]Account{{ID: 1, Username: "alice", ServerHash: []byte("h"), ClientPrefix: "p"}},
		[]Message{{ID: 1, SenderID: 1, RecipientID: 1, Body: "note to self"}},
	))

	// Second snapshot is a full replacement, not a merge.
	require.NoError(t, db.Snapshot(
		[]Account{{ID: 2, Username: "bob", ServerHash: []byte("h"), ClientPrefix: "p"}},
		nil,
	))

	accounts, messages, err := db.Load()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "bob", accounts[0].Username)
	assert.Empty(t, messages)
}

func TestPersistentStoreRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")

	db, err := Open(path)
	require.NoError(t, err)
	s, err := NewPersistentStore(db, time.Hour)
	require.NoError(t, err)

	alice, err := s.CreateAccount("alice", []byte("hash-a"), "$p5$04$AAAAAAAAAAAAAAAAAAAAAA")
	require.NoError(t, err)
	bob, err := s.CreateAccount("bob", []byte("hash-b"), "$p5$04$BBBBBBBBBBBBBBBBBBBBBB")
	require.NoError(t, err)
	_, err = s.CreateMessage(alice.ID, "bob", "survives restart")
	require.NoError(t, err)

	// Close writes the final snapshot.
	require.NoError(t, s.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	restarted, err := NewPersistentStore(db2, time.Hour)
	require.NoError(t, err)
	defer restarted.Close()

	got, ok := restarted.LookupByUsername("alice")
	require.True(t, ok)
	assert.Equal(t, alice.ID, got.ID)
	assert.Equal(t, []byte("hash-a"), got.ServerHash)

	assert.Equal(t, 1, restarted.UnreadCount(bob.ID))
	msgs := restarted.FetchUnread(bob.ID, 10)
	require.Len(t, msgs, 1)
	assert.Equal(t, "survives restart", msgs[0].Body)

	// Id counters resume past the persisted maxima.
	carol, err := restarted.CreateAccount("carol", nil, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), carol.ID)
	msg, err := restarted.CreateMessage(carol.ID, "bob", "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(2), msg.ID)
}
