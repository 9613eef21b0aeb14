// Package store holds the shared account/message state and the registry
// of currently-connected accounts used for live delivery. Every exported
// operation is atomic with respect to every other: one RWMutex guards
// accounts, messages, and the registry together, so no lock ordering is
// needed and no operation can observe a partial update.
package store

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// MaxUsernameLen is bounded by the wire protocol's 1-byte length
	// prefix. Enforced here so oversized values never reach a codec.
	MaxUsernameLen = 255

	// MaxMessageLen is bounded by the wire protocol's 2-byte length
	// prefix on message bodies.
	MaxMessageLen = 65535
)

var (
	ErrInvalidUsername   = errors.New("username must be non-empty and at most 255 bytes")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrUnknownAccount    = errors.New("account does not exist")
	ErrUnknownRecipient  = errors.New("recipient does not exist")
	ErrMessageTooLong    = errors.New("message body exceeds 65535 bytes")
	ErrMessageNotFound   = errors.New("message does not exist")
	ErrMessageNotOwned   = errors.New("message is not owned by this account")
)

// Account is a registered user. ID, username, and the credential fields
// are immutable once assigned.
type Account struct {
	ID           int64
	Username     string
	ServerHash   []byte // server-side hash of the client pre-hash, never transmitted
	ClientPrefix string // cost/salt prefix the client reuses on login
}

// Message is a stored message. Only Delivered may change, and only
// false→true.
type Message struct {
	ID          int64
	SenderID    int64
	RecipientID int64
	Body        string
	Delivered   bool
}

// PushTarget is a live connection that can receive a pushed message.
// Implementations serialize their own writes; the store never performs
// I/O through a target.
type PushTarget interface {
	PushMessage(msg Message, sender string) error
}

// Store is the single piece of mutable state shared across all
// connection workers.
type Store struct {
	mu sync.RWMutex

	accounts       map[int64]*Account
	accountsByName map[string]*Account
	nextAccountID  int64

	messages      map[int64]*Message
	inbox         map[int64][]int64 // recipientID -> message IDs in arrival order
	nextMessageID int64

	registry map[int64]PushTarget

	// Snapshot persistence (nil for a pure in-memory store).
	db       *DB
	dirty    bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		accounts:       make(map[int64]*Account),
		accountsByName: make(map[string]*Account),
		nextAccountID:  1,
		messages:       make(map[int64]*Message),
		inbox:          make(map[int64][]int64),
		nextMessageID:  1,
		registry:       make(map[int64]PushTarget),
		shutdown:       make(chan struct{}),
	}
}

// NewPersistentStore loads existing state from db and snapshots back on
// the given interval and at Close. Store operations themselves never
// touch disk.
func NewPersistentStore(db *DB, interval time.Duration) (*Store, error) {
	s := NewStore()
	s.db = db

	accounts, messages, err := db.Load()
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		a := accounts[i]
		s.accounts[a.ID] = &a
		s.accountsByName[a.Username] = &a
		if a.ID >= s.nextAccountID {
			s.nextAccountID = a.ID + 1
		}
	}
	for i := range messages {
		m := messages[i]
		s.messages[m.ID] = &m
		s.inbox[m.RecipientID] = append(s.inbox[m.RecipientID], m.ID)
		if m.ID >= s.nextMessageID {
			s.nextMessageID = m.ID + 1
		}
	}
	for _, ids := range s.inbox {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	s.wg.Add(1)
	go s.snapshotLoop(interval)
	return s, nil
}

// Close stops the snapshot loop, writes a final snapshot, and closes the
// backing database. A no-op for in-memory stores.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	close(s.shutdown)
	s.wg.Wait()
	if err := s.writeSnapshot(); err != nil {
		return err
	}
	return s.db.Close()
}

// CreateAccount assigns the next sequential id and inserts atomically.
// There is no window where the username can be observed absent and then
// created twice.
func (s *Store) CreateAccount(username string, serverHash []byte, clientPrefix string) (Account, error) {
	if username == "" || len(username) > MaxUsernameLen {
		return Account{}, ErrInvalidUsername
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accountsByName[username]; exists {
		return Account{}, ErrDuplicateUsername
	}
	acct := &Account{
		ID:           s.nextAccountID,
		Username:     username,
		ServerHash:   serverHash,
		ClientPrefix: clientPrefix,
	}
	s.nextAccountID++
	s.accounts[acct.ID] = acct
	s.accountsByName[username] = acct
	s.dirty = true
	return *acct, nil
}

// LookupByUsername returns the account with the given username.
func (s *Store) LookupByUsername(username string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accountsByName[username]
	if !ok {
		return Account{}, false
	}
	return *acct, true
}

// LookupByID returns the account with the given id.
func (s *Store) LookupByID(id int64) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return Account{}, false
	}
	return *acct, true
}

// ListAccounts returns accounts with id >= offsetID whose username
// contains filter (empty filter matches all), in ascending id order,
// capped at limit results.
func (s *Store) ListAccounts(limit int, offsetID int64, filter string) []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.accounts))
	for id := range s.accounts {
		if id >= offsetID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := make([]Account, 0, limit)
	for _, id := range ids {
		if len(result) >= limit {
			break
		}
		acct := s.accounts[id]
		if filter != "" && !strings.Contains(acct.Username, filter) {
			continue
		}
		result = append(result, *acct)
	}
	return result
}

// CreateMessage resolves the recipient by username and stores a new
// undelivered message with a globally monotonic id.
func (s *Store) CreateMessage(senderID int64, recipientUsername, body string) (Message, error) {
	if len(body) > MaxMessageLen {
		return Message{}, ErrMessageTooLong
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[senderID]; !ok {
		return Message{}, ErrUnknownAccount
	}
	recipient, ok := s.accountsByName[recipientUsername]
	if !ok {
		return Message{}, ErrUnknownRecipient
	}

	msg := &Message{
		ID:          s.nextMessageID,
		SenderID:    senderID,
		RecipientID: recipient.ID,
		Body:        body,
	}
	s.nextMessageID++
	s.messages[msg.ID] = msg
	s.inbox[recipient.ID] = append(s.inbox[recipient.ID], msg.ID)
	s.dirty = true
	return *msg, nil
}

// UnreadCount returns the number of undelivered messages addressed to
// the account.
func (s *Store) UnreadCount(accountID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, id := range s.inbox[accountID] {
		if !s.messages[id].Delivered {
			count++
		}
	}
	return count
}

// FetchUnread returns up to max undelivered messages addressed to the
// account, oldest first, marking each delivered in the same atomic step.
// Concurrent fetchers can never receive the same message twice.
func (s *Store) FetchUnread(accountID int64, max int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Message, 0, max)
	for _, id := range s.inbox[accountID] {
		if len(result) >= max {
			break
		}
		msg := s.messages[id]
		if msg.Delivered {
			continue
		}
		msg.Delivered = true
		s.dirty = true
		result = append(result, *msg)
	}
	return result
}

// MarkDelivered transitions a message to delivered after a successful
// live push. Returns false if the message no longer exists or was
// already delivered by a concurrent fetch.
func (s *Store) MarkDelivered(messageID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok || msg.Delivered {
		return false
	}
	msg.Delivered = true
	s.dirty = true
	return true
}

// DeleteMessages deletes the batch all-or-nothing: if any id does not
// exist or is owned by neither side of the conversation, no message in
// the batch is deleted.
func (s *Store) DeleteMessages(accountID int64, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		msg, ok := s.messages[id]
		if !ok {
			return ErrMessageNotFound
		}
		if msg.SenderID != accountID && msg.RecipientID != accountID {
			return ErrMessageNotOwned
		}
	}
	for _, id := range ids {
		s.removeMessageLocked(id)
	}
	if len(ids) > 0 {
		s.dirty = true
	}
	return nil
}

// DeleteAccount removes the account, its registry entry, and every
// message it sent or received. Cascading (rather than orphaning) keeps
// all stored sender/recipient ids resolvable.
func (s *Store) DeleteAccount(accountID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return ErrUnknownAccount
	}
	delete(s.accounts, accountID)
	delete(s.accountsByName, acct.Username)
	delete(s.registry, accountID)

	var doomed []int64
	for id, msg := range s.messages {
		if msg.SenderID == accountID || msg.RecipientID == accountID {
			doomed = append(doomed, id)
		}
	}
	for _, id := range doomed {
		s.removeMessageLocked(id)
	}
	s.dirty = true
	return nil
}

// RegisterConnection associates an account with its live connection.
// Last login wins: a newer registration replaces any prior one.
func (s *Store) RegisterConnection(accountID int64, target PushTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[accountID] = target
}

// UnregisterConnection removes the registry entry, but only if it still
// belongs to the given target: a stale session closing must not evict a
// newer login. Removing the entry never touches the account or its
// messages.
func (s *Store) UnregisterConnection(accountID int64, target PushTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry[accountID] == target {
		delete(s.registry, accountID)
	}
}

// LookupConnection returns the live connection for an account, if any.
// Callers perform the push outside the store lock.
func (s *Store) LookupConnection(accountID int64) (PushTarget, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.registry[accountID]
	return target, ok
}

// removeMessageLocked deletes one message and its inbox reference.
// Caller holds s.mu.
func (s *Store) removeMessageLocked(id int64) {
	msg, ok := s.messages[id]
	if !ok {
		return
	}
	delete(s.messages, id)
	ids := s.inbox[msg.RecipientID]
	for i, mid := range ids {
		if mid == id {
			s.inbox[msg.RecipientID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.inbox[msg.RecipientID]) == 0 {
		delete(s.inbox, msg.RecipientID)
	}
}

func (s *Store) snapshotLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.RLock()
			dirty := s.dirty
			s.mu.RUnlock()
			if dirty {
				if err := s.writeSnapshot(); err != nil {
					logSnapshotError(err)
				}
			}
		case <-s.shutdown:
			return
		}
	}
}

// writeSnapshot copies current state under the lock (write lock, so the
// dirty flag resets atomically with the copy) and writes it to SQLite
// outside the lock.
func (s *Store) writeSnapshot() error {
	s.mu.Lock()
	accounts := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, *a)
	}
	messages := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		messages = append(messages, *m)
	}
	s.dirty = false
	s.mu.Unlock()

	return s.db.Snapshot(accounts, messages)
}
