package server

import (
	"errors"

	"github.com/catherinesyeh/cs262-chat/pkg/auth"
	"github.com/catherinesyeh/cs262-chat/pkg/protocol"
	"github.com/catherinesyeh/cs262-chat/pkg/store"
)

// route invokes the store/credential operation for a decoded request and
// returns the response. Dispatch is on the request type only; the codec
// that produced the request is irrelevant here.
//
// LOOKUP_USER, LOGIN, and CREATE_ACCOUNT are the only operations allowed
// before login; everything else is answered with an operation-tagged
// failure frame until a login succeeds on this session.
func (s *Server) route(sess *Session, req protocol.Request) protocol.Response {
	switch m := req.(type) {
	case protocol.LookupUserRequest:
		return s.handleLookupUser(m)
	case protocol.LoginRequest:
		return s.handleLogin(sess, m)
	case protocol.CreateAccountRequest:
		return s.handleCreateAccount(sess, m)
	}

	accountID, username := sess.account()
	if accountID == 0 {
		return protocol.FailureResponse{Operation: req.Op(), Message: "not logged in"}
	}

	switch m := req.(type) {
	case protocol.ListAccountsRequest:
		return s.handleListAccounts(m)
	case protocol.SendMessageRequest:
		return s.handleSendMessage(accountID, username, m)
	case protocol.RequestMessagesRequest:
		return s.handleRequestMessages(accountID, m)
	case protocol.DeleteMessagesRequest:
		return s.handleDeleteMessages(accountID, m)
	case protocol.DeleteAccountRequest:
		return s.handleDeleteAccount(sess, accountID)
	default:
		return protocol.FailureResponse{Operation: req.Op(), Message: "operation not implemented"}
	}
}

func (s *Server) handleLookupUser(req protocol.LookupUserRequest) protocol.Response {
	acct, ok := s.store.LookupByUsername(req.Username)
	if !ok {
		return protocol.LookupUserResponse{Exists: false}
	}
	return protocol.LookupUserResponse{Exists: true, HashPrefix: acct.ClientPrefix}
}

func (s *Server) handleLogin(sess *Session, req protocol.LoginRequest) protocol.Response {
	acct, ok := s.store.LookupByUsername(req.Username)
	if !ok {
		// Burn a comparison against a throwaway credential so an
		// unknown username costs the same as a bad password.
		s.creds.Verify(s.dummyHash, req.PasswordHash)
		return protocol.LoginResponse{Success: false}
	}
	if !s.creds.Verify(acct.ServerHash, req.PasswordHash) {
		return protocol.LoginResponse{Success: false}
	}

	s.loginSession(sess, acct)
	return protocol.LoginResponse{
		Success:        true,
		UnreadMessages: clampUint16(s.store.UnreadCount(acct.ID)),
	}
}

func (s *Server) handleCreateAccount(sess *Session, req protocol.CreateAccountRequest) protocol.Response {
	cred, err := s.creds.CreateCredential(req.PasswordHash)
	if err != nil {
		if errors.Is(err, auth.ErrMalformedHash) {
			return protocol.FailureResponse{Operation: protocol.OpCreateAccount, Message: "malformed password hash"}
		}
		errorLog.Printf("Session %d: credential creation failed: %v", sess.ID, err)
		return protocol.FailureResponse{Operation: protocol.OpCreateAccount, Message: "could not create credential"}
	}

	acct, err := s.store.CreateAccount(req.Username, cred.ServerHash, cred.ClientPrefix)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateUsername):
			return protocol.CreateAccountResponse{Success: false}
		case errors.Is(err, store.ErrInvalidUsername):
			return protocol.FailureResponse{Operation: protocol.OpCreateAccount, Message: err.Error()}
		default:
			errorLog.Printf("Session %d: account creation failed: %v", sess.ID, err)
			return protocol.FailureResponse{Operation: protocol.OpCreateAccount, Message: "could not create account"}
		}
	}

	s.metrics.AccountsCreated.Inc()
	// Creating an account logs the new account in on this session.
	s.loginSession(sess, acct)
	return protocol.CreateAccountResponse{Success: true}
}

// loginSession binds the account to this session and registers it for
// live delivery. Last login wins: a registration from a newer session
// replaces any prior one for the account.
func (s *Server) loginSession(sess *Session, acct store.Account) {
	// A session switching accounts must release its old registry entry,
	// or a later push for the old account would land on a connection
	// that now belongs to someone else. Handle-compared, so a newer
	// login of the old account elsewhere is not evicted.
	if prevID, _ := sess.account(); prevID != 0 && prevID != acct.ID {
		s.store.UnregisterConnection(prevID, sess)
	}
	sess.setAccount(acct.ID, acct.Username)
	s.store.RegisterConnection(acct.ID, sess)
	debugLog.Printf("Session %d: logged in as %q (account %d)", sess.ID, acct.Username, acct.ID)
}

func (s *Server) handleListAccounts(req protocol.ListAccountsRequest) protocol.Response {
	accounts := s.store.ListAccounts(int(req.MaximumNumber), int64(req.OffsetAccountID), req.FilterText)
	summaries := make([]protocol.AccountSummary, len(accounts))
	for i, acct := range accounts {
		summaries[i] = protocol.AccountSummary{ID: uint32(acct.ID), Username: acct.Username}
	}
	return protocol.ListAccountsResponse{Accounts: summaries}
}

func (s *Server) handleSendMessage(senderID int64, senderName string, req protocol.SendMessageRequest) protocol.Response {
	msg, err := s.store.CreateMessage(senderID, req.Recipient, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrUnknownRecipient):
			return protocol.FailureResponse{Operation: protocol.OpSendMessage, Message: "recipient does not exist"}
		case errors.Is(err, store.ErrMessageTooLong):
			return protocol.FailureResponse{Operation: protocol.OpSendMessage, Message: err.Error()}
		default:
			errorLog.Printf("Failed to store message from account %d: %v", senderID, err)
			return protocol.FailureResponse{Operation: protocol.OpSendMessage, Message: "could not store message"}
		}
	}
	s.metrics.MessagesCreated.Inc()

	// Live-push fast path: if the recipient is connected, attempt one
	// bounded delivery on their connection. Failure leaves the message
	// queued for a later fetch.
	if target, ok := s.store.LookupConnection(msg.RecipientID); ok {
		s.metrics.PushAttempts.Inc()
		if err := target.PushMessage(msg, senderName); err != nil {
			debugLog.Printf("Live push of message %d to account %d failed: %v", msg.ID, msg.RecipientID, err)
		} else if s.store.MarkDelivered(msg.ID) {
			s.metrics.PushDelivered.Inc()
		}
	}

	return protocol.SendMessageResponse{Success: true, MessageID: uint32(msg.ID)}
}

func (s *Server) handleRequestMessages(accountID int64, req protocol.RequestMessagesRequest) protocol.Response {
	messages := s.store.FetchUnread(accountID, int(req.MaximumNumber))
	delivered := make([]protocol.DeliveredMessage, len(messages))
	for i, msg := range messages {
		sender, _ := s.store.LookupByID(msg.SenderID)
		delivered[i] = protocol.DeliveredMessage{
			ID:      uint32(msg.ID),
			Sender:  sender.Username,
			Message: msg.Body,
		}
	}
	return protocol.RequestMessagesResponse{Messages: delivered}
}

func (s *Server) handleDeleteMessages(accountID int64, req protocol.DeleteMessagesRequest) protocol.Response {
	ids := make([]int64, len(req.MessageIDs))
	for i, id := range req.MessageIDs {
		ids[i] = int64(id)
	}
	if err := s.store.DeleteMessages(accountID, ids); err != nil {
		debugLog.Printf("Batch delete for account %d rejected: %v", accountID, err)
		return protocol.DeleteMessagesResponse{Success: false}
	}
	return protocol.DeleteMessagesResponse{Success: true}
}

func (s *Server) handleDeleteAccount(sess *Session, accountID int64) protocol.Response {
	if err := s.store.DeleteAccount(accountID); err != nil {
		return protocol.FailureResponse{Operation: protocol.OpDeleteAccount, Message: "account no longer exists"}
	}
	// The registry entry went with the account; the connection stays
	// open so the client can create a fresh account.
	sess.clearAccount()
	return protocol.DeleteAccountResponse{}
}

func clampUint16(n int) uint16 {
	if n > 0xFFFF {
		return 0xFFFF
	}
	return uint16(n)
}
