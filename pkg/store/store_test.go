package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(t *testing.T, s *Store, username string) Account {
	t.Helper()
	acct, err := s.CreateAccount(username, []byte("hash-"+username), "$p5$04$AAAAAAAAAAAAAAAAAAAAAA")
	require.NoError(t, err)
	return acct
}

func TestCreateAccountSequentialIDs(t *testing.T) {
	s := NewStore()
	alice := newAccount(t, s, "alice")
	bob := newAccount(t, s, "bob")
	assert.Equal(t, int64(1), alice.ID)
	assert.Equal(t, int64(2), bob.ID)
}

func TestCreateAccountDuplicateUsername(t *testing.T) {
	s := NewStore()
	newAccount(t, s, "alice")
	_, err := s.CreateAccount("alice", []byte("other"), "$p5$04$BBBBBBBBBBBBBBBBBBBBBB")
	assert.ErrorIs(t, err, ErrDuplicateUsername)
}

func TestCreateAccountInvalidUsername(t *testing.T) {
	s := NewStore()
	_, err := s.CreateAccount("", nil, "")
	assert.ErrorIs(t, err, ErrInvalidUsername)

	long := make([]byte, MaxUsernameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = s.CreateAccount(string(long), nil, "")
	assert.ErrorIs(t, err, ErrInvalidUsername)
}

func TestCreateAccountConcurrent(t *testing.T) {
	s := NewStore()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreateAccount(fmt.Sprintf("user%02d", i), nil, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	accounts := s.ListAccounts(n+1, 0, "")
	require.Len(t, accounts, n)
	seen := make(map[int64]bool)
	for _, acct := range accounts {
		assert.False(t, seen[acct.ID], "duplicate id %d", acct.ID)
		seen[acct.ID] = true
		assert.GreaterOrEqual(t, acct.ID, int64(1))
		assert.LessOrEqual(t, acct.ID, int64(n))
	}
}

func TestLookupByUsername(t *testing.T) {
	s := NewStore()
	created := newAccount(t, s, "alice")

	acct, ok := s.LookupByUsername("alice")
	require.True(t, ok)
	assert.Equal(t, created.ID, acct.ID)
	assert.Equal(t, "$p5$04$AAAAAAAAAAAAAAAAAAAAAA", acct.ClientPrefix)

	_, ok = s.LookupByUsername("nobody")
	assert.False(t, ok)
}

func TestListAccountsOrderOffsetFilter(t *testing.T) {
	s := NewStore()
	newAccount(t, s, "alice")
	newAccount(t, s, "bob")
	newAccount(t, s, "alina")
	newAccount(t, s, "carol")

	all := s.ListAccounts(10, 0, "")
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID, "ids must ascend")
	}

	fromSecond := s.ListAccounts(10, 2, "")
	require.Len(t, fromSecond, 3)
	assert.Equal(t, "bob", fromSecond[0].Username)

	filtered := s.ListAccounts(10, 0, "al")
	require.Len(t, filtered, 2)
	assert.Equal(t, "alice", filtered[0].Username)
	assert.Equal(t, "alina", filtered[1].Username)

	capped := s.ListAccounts(1, 0, "")
	require.Len(t, capped, 1)
	assert.Equal(t, "alice", capped[0].Username)
}

func TestCreateMessage(t *testing.T) {
	s := NewStore()
	alice := newAccount(t, s, "alice")
	bob := newAccount(t, s, "bob")

	msg, err := s.CreateMessage(alice.ID, "bob", "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.ID)
	assert.Equal(t, alice.ID, msg.SenderID)
	assert.Equal(t, bob.ID, msg.RecipientID)
	assert.False(t, msg.Delivered)

	second, err := s.CreateMessage(alice.ID, "bob", "again")
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.ID)
}

func TestCreateMessageUnknownRecipient(t *testing.T) {
	s := NewStore()
	alice := newAccount(t, s, "alice")
	_, err := s.CreateMessage(alice.ID, "nobody", "hi")
	assert.ErrorIs(t, err, ErrUnknownRecipient)
}

func TestCreateMessageUnknownSender(t *testing.T) {
	s := NewStore()
	newAccount(t, s, "bob")
	_, err := s.CreateMessage(999, "bob", "hi")
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestFetchUnreadMarksDelivered(t *testing.T) {
	s := NewStore()
	alice := newAccount(t, s, "alice")
	bob := newAccount(t, s, "bob")

	for i := 0; i < 3; i++ {
		_, err := s.CreateMessage(alice.ID, "bob", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, s.UnreadCount(bob.ID))

	first := s.FetchUnread(bob.ID, 2)
	require.Len(t, first, 2)
	assert.Equal(t, "msg 0", first[0].Body)
	assert.Equal(t, "msg 1", first[1].Body)
	assert.Equal(t, 1, s.UnreadCount(bob.ID))

	rest := s.FetchUnread(bob.ID, 10)
	require.Len(t, rest, 1)
	assert.Equal(t, "msg 2", rest[0].Body)

	assert.Empty(t, s.FetchUnread(bob.ID, 10))
	assert.Equal(t, 0, s.UnreadCount(bob.ID))
}

func TestMarkDelivered(t *testing.T) {
	s := NewStore()
	alice := newAccount(t, s, "alice")
	newAccount(t, s, "bob")

	msg, err := s.CreateMessage(alice.ID, "bob", "hi")
	require.NoError(t, err)

	assert.True(t, s.MarkDelivered(msg.ID))
	assert.False(t, s.MarkDelivered(msg.ID), "second mark must report false")
	assert.False(t, s.MarkDelivered(999))
}

func TestDeleteMessagesAllOrNothing(t *testing.T) {
	s := NewStore()
	alice := newAccount(t, s, "alice")
	bob := newAccount(t, s, "bob")
	carol := newAccount(t, s, "carol")

	mine, err := s.CreateMessage(alice.ID, "bob", "mine")
	require.NoError(t, err)
	foreign, err := s.CreateMessage(bob.ID, "carol", "foreign")
	require.NoError(t, err)

	// One valid id plus one the account does not own: nothing is deleted.
	err = s.DeleteMessages(alice.ID, []int64{mine.ID, foreign.ID})
	assert.ErrorIs(t, err, ErrMessageNotOwned)
	assert.Equal(t, 1, s.UnreadCount(bob.ID), "rejected batch must delete nothing")

	// One valid id plus one that does not exist: same story.
	err = s.DeleteMessages(alice.ID, []int64{mine.ID, 999})
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.Equal(t, 1, s.UnreadCount(bob.ID))

	require.NoError(t, s.DeleteMessages(alice.ID, []int64{mine.ID}))
	assert.Equal(t, 0, s.UnreadCount(bob.ID))
	assert.Equal(t, 1, s.UnreadCount(carol.ID), "unrelated message survives")
}

func TestDeleteMessagesByRecipient(t *testing.T) {
	s := NewStore()
	alice := newAccount(t, s, "alice")
	bob := newAccount(t, s, "bob")

	msg, err := s.CreateMessage(alice.ID, "bob", "hi")
	require.NoError(t, err)

	// The recipient owns the message too.
	require.NoError(t, s.DeleteMessages(bob.ID, []int64{msg.ID}))
	assert.Equal(t, 0, s.UnreadCount(bob.ID))
}

func TestDeleteAccountCascades(t *testing.T) {
	s := NewStore()
	alice := newAccount(t, s, "alice")
	bob := newAccount(t, s, "bob")
	carol := newAccount(t, s, "carol")

	_, err := s.CreateMessage(alice.ID, "bob", "to bob")
	require.NoError(t, err)
	_, err = s.CreateMessage(bob.ID, "alice", "to alice")
	require.NoError(t, err)
	kept, err := s.CreateMessage(bob.ID, "carol", "to carol")
	require.NoError(t, err)

	require.NoError(t, s.DeleteAccount(alice.ID))

	_, ok := s.LookupByUsername("alice")
	assert.False(t, ok)
	assert.Equal(t, 0, s.UnreadCount(bob.ID), "messages sent by the deleted account go with it")
	assert.Equal(t, 1, s.UnreadCount(carol.ID))

	msgs := s.FetchUnread(carol.ID, 10)
	require.Len(t, msgs, 1)
	assert.Equal(t, kept.ID, msgs[0].ID)

	// The username is free for re-registration.
	again, err := s.CreateAccount("alice", nil, "")
	require.NoError(t, err)
	assert.Greater(t, again.ID, alice.ID, "ids are never reused")

	assert.ErrorIs(t, s.DeleteAccount(alice.ID), ErrUnknownAccount)
}

type fakeTarget struct {
	mu   sync.Mutex
	msgs []Message
}

func (f *fakeTarget) PushMessage(msg Message, sender string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestRegistryLastLoginWins(t *testing.T) {
	s := NewStore()
	alice := newAccount(t, s, "alice")

	older := &fakeTarget{}
	newer := &fakeTarget{}
	s.RegisterConnection(alice.ID, older)
	s.RegisterConnection(alice.ID, newer)

	target, ok := s.LookupConnection(alice.ID)
	require.True(t, ok)
	assert.Same(t, newer, target)

	// The stale session disconnecting must not evict the newer login.
	s.UnregisterConnection(alice.ID, older)
	target, ok = s.LookupConnection(alice.ID)
	require.True(t, ok)
	assert.Same(t, newer, target)

	s.UnregisterConnection(alice.ID, newer)
	_, ok = s.LookupConnection(alice.ID)
	assert.False(t, ok)
}

func TestDeleteAccountDropsRegistryEntry(t *testing.T) {
	s := NewStore()
	alice := newAccount(t, s, "alice")
	s.RegisterConnection(alice.ID, &fakeTarget{})

	require.NoError(t, s.DeleteAccount(alice.ID))
	_, ok := s.LookupConnection(alice.ID)
	assert.False(t, ok)
}

func TestConcurrentSendAndFetch(t *testing.T) {
	s := NewStore()
	alice := newAccount(t, s, "alice")
	bob := newAccount(t, s, "bob")

	const total = 200
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			_, err := s.CreateMessage(alice.ID, "bob", fmt.Sprintf("m%d", i))
			assert.NoError(t, err)
		}
	}()

	received := make(map[int64]bool)
	go func() {
		defer wg.Done()
		for len(received) < total {
			for _, msg := range s.FetchUnread(bob.ID, 10) {
				assert.False(t, received[msg.ID], "message %d fetched twice", msg.ID)
				received[msg.ID] = true
			}
		}
	}()

	wg.Wait()
	assert.Len(t, received, total)
	assert.Equal(t, 0, s.UnreadCount(bob.ID))
}
