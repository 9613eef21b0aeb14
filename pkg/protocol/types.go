package protocol

import (
	"bufio"
	"fmt"
	"io"
)

// Operation identifies one of the eight protocol operations. The wire
// codec uses the numeric value as the opcode byte; the JSON codec uses
// the name.
type Operation uint8

const (
	OpUnknown         Operation = 0
	OpLookupUser      Operation = 1
	OpLogin           Operation = 2
	OpCreateAccount   Operation = 3
	OpListAccounts    Operation = 4
	OpSendMessage     Operation = 5
	OpRequestMessages Operation = 6
	OpDeleteMessages  Operation = 7
	OpDeleteAccount   Operation = 8
)

// FailureOpcode tags a wire failure frame. It is not an operation of its
// own; the frame carries the opcode of the operation that failed.
const FailureOpcode = 0xFF

// HashPrefixLen is the fixed width of the client hash prefix returned by
// LOOKUP_USER ("$p5$CC$" plus a 22-character salt).
const HashPrefixLen = 29

var operationNames = map[Operation]string{
	OpLookupUser:      "LOOKUP_USER",
	OpLogin:           "LOGIN",
	OpCreateAccount:   "CREATE_ACCOUNT",
	OpListAccounts:    "LIST_ACCOUNTS",
	OpSendMessage:     "SEND_MESSAGE",
	OpRequestMessages: "REQUEST_MESSAGES",
	OpDeleteMessages:  "DELETE_MESSAGES",
	OpDeleteAccount:   "DELETE_ACCOUNT",
}

var operationsByName = func() map[string]Operation {
	m := make(map[string]Operation, len(operationNames))
	for op, name := range operationNames {
		m[name] = op
	}
	return m
}()

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(o))
}

// OperationByName resolves a JSON operation name. Returns OpUnknown for
// names outside the operation set.
func OperationByName(name string) Operation {
	return operationsByName[name]
}

// ParseError reports a malformed, truncated, or unrecognized request or
// response. The connection survives a ParseError; only the offending
// frame is dropped.
type ParseError struct {
	Op  Operation
	Msg string
}

func (e *ParseError) Error() string {
	if e.Op == OpUnknown {
		return fmt.Sprintf("parse error: %s", e.Msg)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Op, e.Msg)
}

func parseErr(op Operation, format string, args ...interface{}) *ParseError {
	return &ParseError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Request is the decoded form of a client request. The router dispatches
// on the concrete type; Op is used for error tagging and logging.
type Request interface {
	Op() Operation
}

// Response is the decoded form of a server response.
type Response interface {
	Op() Operation
}

type LookupUserRequest struct {
	Username string
}

type LoginRequest struct {
	Username     string
	PasswordHash string
}

type CreateAccountRequest struct {
	Username     string
	PasswordHash string
}

type ListAccountsRequest struct {
	MaximumNumber   uint8
	OffsetAccountID uint32
	FilterText      string
}

type SendMessageRequest struct {
	Recipient string
	Message   string
}

type RequestMessagesRequest struct {
	MaximumNumber uint8
}

type DeleteMessagesRequest struct {
	MessageIDs []uint32
}

type DeleteAccountRequest struct{}

func (LookupUserRequest) Op() Operation      { return OpLookupUser }
func (LoginRequest) Op() Operation           { return OpLogin }
func (CreateAccountRequest) Op() Operation   { return OpCreateAccount }
func (ListAccountsRequest) Op() Operation    { return OpListAccounts }
func (SendMessageRequest) Op() Operation     { return OpSendMessage }
func (RequestMessagesRequest) Op() Operation { return OpRequestMessages }
func (DeleteMessagesRequest) Op() Operation  { return OpDeleteMessages }
func (DeleteAccountRequest) Op() Operation   { return OpDeleteAccount }

// LookupUserResponse reports whether an account exists and, if it does,
// the fixed-width hash prefix the client must use to derive its pre-hash.
type LookupUserResponse struct {
	Exists     bool
	HashPrefix string
}

type LoginResponse struct {
	Success        bool
	UnreadMessages uint16
}

type CreateAccountResponse struct {
	Success bool
}

// AccountSummary is one row of a LIST_ACCOUNTS response.
type AccountSummary struct {
	ID       uint32
	Username string
}

type ListAccountsResponse struct {
	Accounts []AccountSummary
}

type SendMessageResponse struct {
	Success   bool
	MessageID uint32
}

// DeliveredMessage is one message of a REQUEST_MESSAGES response. The
// same shape carries live-pushed messages: a push is an unsolicited
// single-message REQUEST_MESSAGES response.
type DeliveredMessage struct {
	ID      uint32
	Sender  string
	Message string
}

type RequestMessagesResponse struct {
	Messages []DeliveredMessage
}

type DeleteMessagesResponse struct {
	Success bool
}

type DeleteAccountResponse struct{}

// FailureResponse is the operation-tagged failure frame sent for parse
// errors, domain-rule violations, and credential format errors.
type FailureResponse struct {
	Operation Operation
	Message   string
}

func (LookupUserResponse) Op() Operation      { return OpLookupUser }
func (LoginResponse) Op() Operation           { return OpLogin }
func (CreateAccountResponse) Op() Operation   { return OpCreateAccount }
func (ListAccountsResponse) Op() Operation    { return OpListAccounts }
func (SendMessageResponse) Op() Operation     { return OpSendMessage }
func (RequestMessagesResponse) Op() Operation { return OpRequestMessages }
func (DeleteMessagesResponse) Op() Operation  { return OpDeleteMessages }
func (DeleteAccountResponse) Op() Operation   { return OpDeleteAccount }
func (f FailureResponse) Op() Operation       { return f.Operation }

// Codec is the paired encode/decode logic for one wire format. A session
// latches one codec from the first byte of its first request and uses it
// for every frame in both directions afterwards.
type Codec interface {
	Name() string

	// DecodeRequest parses one request. The session has already consumed
	// the first byte (to select the codec); the codec receives it along
	// with the buffered remainder of the stream.
	DecodeRequest(first byte, r *bufio.Reader) (Request, error)

	// EncodeRequest writes one request (client side).
	EncodeRequest(w io.Writer, req Request) error

	// DecodeResponse parses one response (client side).
	DecodeResponse(r *bufio.Reader) (Response, error)

	// EncodeResponse writes one response.
	EncodeResponse(w io.Writer, resp Response) error
}
