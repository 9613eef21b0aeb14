// Package client implements the client side of the chat protocol: it
// dials the server with either codec, pairs requests with responses, and
// surfaces live-pushed messages through a callback.
package client

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/catherinesyeh/cs262-chat/pkg/auth"
	"github.com/catherinesyeh/cs262-chat/pkg/protocol"
)

// ErrClosed is returned by calls made after the connection closed.
var ErrClosed = errors.New("connection closed")

// ServerError is an operation-tagged failure frame from the server.
type ServerError struct {
	Op      protocol.Operation
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
}

// PushHandler receives messages delivered live by the server.
type PushHandler func(protocol.DeliveredMessage)

// Client is a connection to the chat server. One request may be
// outstanding per operation; the protocol is request/response plus
// unsolicited pushed messages.
type Client struct {
	conn    net.Conn
	codec   protocol.Codec
	reader  *bufio.Reader
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[protocol.Operation]chan protocol.Response
	onPush  PushHandler
	readErr error
	closed  chan struct{}
}

// Dial connects to addr speaking the given codec and starts the reader.
func Dial(addr string, codec protocol.Codec) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:    conn,
		codec:   codec,
		reader:  bufio.NewReader(conn),
		pending: make(map[protocol.Operation]chan protocol.Response),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// OnPush installs the handler for live-pushed messages. Must be set
// before operations that can trigger pushes are issued.
func (c *Client) OnPush(h PushHandler) {
	c.mu.Lock()
	c.onPush = h
	c.mu.Unlock()
}

// Close tears down the connection; pending calls fail with ErrClosed.
func (c *Client) Close() error {
	return c.conn.Close()
}

// readLoop routes every inbound response: to the pending call for its
// operation, or to the push handler for an unsolicited REQUEST_MESSAGES
// frame.
func (c *Client) readLoop() {
	for {
		resp, err := c.codec.DecodeResponse(c.reader)
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			for op, ch := range c.pending {
				delete(c.pending, op)
				close(ch)
			}
			c.mu.Unlock()
			close(c.closed)
			return
		}

		c.mu.Lock()
		ch, waiting := c.pending[resp.Op()]
		if waiting {
			delete(c.pending, resp.Op())
		}
		onPush := c.onPush
		c.mu.Unlock()

		if waiting {
			ch <- resp
			continue
		}
		if pushed, ok := resp.(protocol.RequestMessagesResponse); ok && onPush != nil {
			for _, msg := range pushed.Messages {
				onPush(msg)
			}
		}
	}
}

// call sends one request and waits for the matching response.
func (c *Client) call(req protocol.Request) (protocol.Response, error) {
	ch := make(chan protocol.Response, 1)

	c.mu.Lock()
	if c.readErr != nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := c.pending[req.Op()]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s already in flight", req.Op())
	}
	c.pending[req.Op()] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.codec.EncodeRequest(c.conn, req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.Op())
		c.mu.Unlock()
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if failure, isFailure := resp.(protocol.FailureResponse); isFailure {
			return nil, &ServerError{Op: failure.Operation, Message: failure.Message}
		}
		return resp, nil
	case <-c.closed:
		return nil, ErrClosed
	}
}

// Lookup reports whether username exists and, if so, the hash prefix to
// use for the login pre-hash.
func (c *Client) Lookup(username string) (bool, string, error) {
	resp, err := c.call(protocol.LookupUserRequest{Username: username})
	if err != nil {
		return false, "", err
	}
	lookup, ok := resp.(protocol.LookupUserResponse)
	if !ok {
		return false, "", fmt.Errorf("unexpected response %T", resp)
	}
	return lookup.Exists, lookup.HashPrefix, nil
}

// CreateAccount registers username with a fresh client-chosen cost and
// salt. On success the server considers this connection logged in.
func (c *Client) CreateAccount(username, password string) (bool, error) {
	prefix, err := auth.NewPrefix(auth.DefaultClientCost)
	if err != nil {
		return false, err
	}
	preHash, err := auth.DeriveHash(password, prefix)
	if err != nil {
		return false, err
	}
	resp, err := c.call(protocol.CreateAccountRequest{Username: username, PasswordHash: preHash})
	if err != nil {
		return false, err
	}
	created, ok := resp.(protocol.CreateAccountResponse)
	if !ok {
		return false, fmt.Errorf("unexpected response %T", resp)
	}
	return created.Success, nil
}

// Login looks up the account's hash prefix, derives the pre-hash, and
// authenticates. A missing account and a wrong password are
// indistinguishable: both return ok=false.
func (c *Client) Login(username, password string) (unread uint16, ok bool, err error) {
	exists, prefix, err := c.Lookup(username)
	if err != nil {
		return 0, false, err
	}
	if !exists {
		return 0, false, nil
	}
	preHash, err := auth.DeriveHash(password, prefix)
	if err != nil {
		return 0, false, err
	}
	resp, err := c.call(protocol.LoginRequest{Username: username, PasswordHash: preHash})
	if err != nil {
		return 0, false, err
	}
	login, isLogin := resp.(protocol.LoginResponse)
	if !isLogin {
		return 0, false, fmt.Errorf("unexpected response %T", resp)
	}
	return login.UnreadMessages, login.Success, nil
}

// ListAccounts pages through accounts with id >= offsetID matching
// filter.
func (c *Client) ListAccounts(max uint8, offsetID uint32, filter string) ([]protocol.AccountSummary, error) {
	resp, err := c.call(protocol.ListAccountsRequest{
		MaximumNumber:   max,
		OffsetAccountID: offsetID,
		FilterText:      filter,
	})
	if err != nil {
		return nil, err
	}
	list, ok := resp.(protocol.ListAccountsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T", resp)
	}
	return list.Accounts, nil
}

// Send delivers a message to recipient, returning the new message id.
func (c *Client) Send(recipient, message string) (uint32, error) {
	resp, err := c.call(protocol.SendMessageRequest{Recipient: recipient, Message: message})
	if err != nil {
		return 0, err
	}
	sent, ok := resp.(protocol.SendMessageResponse)
	if !ok {
		return 0, fmt.Errorf("unexpected response %T", resp)
	}
	if !sent.Success {
		return 0, &ServerError{Op: protocol.OpSendMessage, Message: "message rejected"}
	}
	return sent.MessageID, nil
}

// FetchMessages retrieves up to max queued messages, marking them
// delivered.
func (c *Client) FetchMessages(max uint8) ([]protocol.DeliveredMessage, error) {
	resp, err := c.call(protocol.RequestMessagesRequest{MaximumNumber: max})
	if err != nil {
		return nil, err
	}
	fetched, ok := resp.(protocol.RequestMessagesResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T", resp)
	}
	return fetched.Messages, nil
}

// DeleteMessages deletes the batch; the server applies it all or not at
// all.
func (c *Client) DeleteMessages(ids []uint32) (bool, error) {
	resp, err := c.call(protocol.DeleteMessagesRequest{MessageIDs: ids})
	if err != nil {
		return false, err
	}
	deleted, ok := resp.(protocol.DeleteMessagesResponse)
	if !ok {
		return false, fmt.Errorf("unexpected response %T", resp)
	}
	return deleted.Success, nil
}

// DeleteAccount deletes the logged-in account and its messages.
func (c *Client) DeleteAccount() error {
	resp, err := c.call(protocol.DeleteAccountRequest{})
	if err != nil {
		return err
	}
	if _, ok := resp.(protocol.DeleteAccountResponse); !ok {
		return fmt.Errorf("unexpected response %T", resp)
	}
	return nil
}
