package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// JSONCodec implements the structured-text envelope:
// {"operation": NAME, "payload": {...}}, one frame per line. A session
// that negotiated this codec never sees binary bytes in either direction.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

type jsonEnvelope struct {
	Operation string          `json:"operation"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type jsonLoginCreatePayload struct {
	Username     *string `json:"username"`
	PasswordHash *string `json:"password_hash"`
}

type jsonListAccountsPayload struct {
	MaximumNumber   *uint8  `json:"maximum_number"`
	OffsetAccountID *uint32 `json:"offset_account_id"`
	FilterText      *string `json:"filter_text"`
}

type jsonSendMessagePayload struct {
	Recipient *string `json:"recipient"`
	Message   *string `json:"message"`
}

type jsonLookupUserPayload struct {
	Username *string `json:"username"`
}

type jsonRequestMessagesPayload struct {
	MaximumNumber *uint8 `json:"maximum_number"`
}

type jsonDeleteMessagesPayload struct {
	MessageIDs *[]uint32 `json:"message_ids"`
}

// readLine consumes one newline-terminated frame. first is the byte the
// session sniffed; for requests it is '{' and is re-prepended before
// parsing, matching the original framing.
func readLine(first byte, r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil && (err != io.EOF || len(line) == 0) {
		return nil, err
	}
	buf := make([]byte, 0, len(line)+1)
	if first != 0 {
		buf = append(buf, first)
	}
	return append(buf, bytes.TrimRight(line, "\r\n")...), nil
}

// DecodeRequest parses one JSON request line.
func (JSONCodec) DecodeRequest(first byte, r *bufio.Reader) (Request, error) {
	line, err := readLine(first, r)
	if err != nil {
		return nil, parseErr(OpUnknown, "could not read request line")
	}

	var env jsonEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, parseErr(OpUnknown, "could not parse request envelope")
	}
	op := OperationByName(env.Operation)
	if op == OpUnknown {
		return nil, parseErr(OpUnknown, "unknown operation %q", env.Operation)
	}

	// DELETE_ACCOUNT is the only operation without a payload.
	if env.Payload == nil && op != OpDeleteAccount {
		return nil, parseErr(op, "requests must include a payload field")
	}

	switch op {
	case OpLookupUser:
		var p jsonLookupUserPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Username == nil {
			return nil, parseErr(op, "missing or invalid username field")
		}
		return LookupUserRequest{Username: *p.Username}, nil

	case OpLogin, OpCreateAccount:
		var p jsonLoginCreatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Username == nil || p.PasswordHash == nil {
			return nil, parseErr(op, "missing or invalid username/password_hash fields")
		}
		if op == OpLogin {
			return LoginRequest{Username: *p.Username, PasswordHash: *p.PasswordHash}, nil
		}
		return CreateAccountRequest{Username: *p.Username, PasswordHash: *p.PasswordHash}, nil

	case OpListAccounts:
		var p jsonListAccountsPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.MaximumNumber == nil || p.OffsetAccountID == nil {
			return nil, parseErr(op, "missing or invalid maximum_number/offset_account_id fields")
		}
		req := ListAccountsRequest{
			MaximumNumber:   *p.MaximumNumber,
			OffsetAccountID: *p.OffsetAccountID,
		}
		// filter_text is optional and defaults to matching everything.
		if p.FilterText != nil {
			req.FilterText = *p.FilterText
		}
		return req, nil

	case OpSendMessage:
		var p jsonSendMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Recipient == nil || p.Message == nil {
			return nil, parseErr(op, "missing or invalid recipient/message fields")
		}
		return SendMessageRequest{Recipient: *p.Recipient, Message: *p.Message}, nil

	case OpRequestMessages:
		var p jsonRequestMessagesPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.MaximumNumber == nil {
			return nil, parseErr(op, "missing or invalid maximum_number field")
		}
		return RequestMessagesRequest{MaximumNumber: *p.MaximumNumber}, nil

	case OpDeleteMessages:
		var p jsonDeleteMessagesPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.MessageIDs == nil {
			return nil, parseErr(op, "missing or invalid message_ids field")
		}
		return DeleteMessagesRequest{MessageIDs: *p.MessageIDs}, nil

	case OpDeleteAccount:
		return DeleteAccountRequest{}, nil
	}
	return nil, parseErr(op, "unknown operation")
}

// EncodeRequest writes one JSON request line (client side).
func (JSONCodec) EncodeRequest(w io.Writer, req Request) error {
	env := struct {
		Operation string      `json:"operation"`
		Payload   interface{} `json:"payload,omitempty"`
	}{Operation: req.Op().String()}

	switch m := req.(type) {
	case LookupUserRequest:
		env.Payload = map[string]interface{}{"username": m.Username}
	case LoginRequest:
		env.Payload = map[string]interface{}{"username": m.Username, "password_hash": m.PasswordHash}
	case CreateAccountRequest:
		env.Payload = map[string]interface{}{"username": m.Username, "password_hash": m.PasswordHash}
	case ListAccountsRequest:
		env.Payload = map[string]interface{}{
			"maximum_number":    m.MaximumNumber,
			"offset_account_id": m.OffsetAccountID,
			"filter_text":       m.FilterText,
		}
	case SendMessageRequest:
		env.Payload = map[string]interface{}{"recipient": m.Recipient, "message": m.Message}
	case RequestMessagesRequest:
		env.Payload = map[string]interface{}{"maximum_number": m.MaximumNumber}
	case DeleteMessagesRequest:
		ids := m.MessageIDs
		if ids == nil {
			ids = []uint32{}
		}
		env.Payload = map[string]interface{}{"message_ids": ids}
	case DeleteAccountRequest:
		// No payload.
	default:
		return parseErr(req.Op(), "unsupported request type")
	}
	return writeJSONLine(w, env)
}

type jsonLookupUserResponse struct {
	Exists     bool   `json:"exists"`
	HashPrefix string `json:"hash_prefix,omitempty"`
}

type jsonLoginResponse struct {
	Success        bool   `json:"success"`
	UnreadMessages uint16 `json:"unread_messages"`
}

type jsonSuccessResponse struct {
	Success bool `json:"success"`
}

type jsonAccountSummary struct {
	ID       uint32 `json:"id"`
	Username string `json:"username"`
}

type jsonListAccountsResponse struct {
	Accounts []jsonAccountSummary `json:"accounts"`
}

type jsonSendMessageResponse struct {
	Success   bool   `json:"success"`
	MessageID uint32 `json:"message_id"`
}

type jsonDeliveredMessage struct {
	ID      uint32 `json:"id"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

type jsonRequestMessagesResponse struct {
	Messages []jsonDeliveredMessage `json:"messages"`
}

type jsonFailurePayload struct {
	Error string `json:"error"`
}

// EncodeResponse writes one JSON response line.
func (JSONCodec) EncodeResponse(w io.Writer, resp Response) error {
	env := struct {
		Operation string      `json:"operation"`
		Payload   interface{} `json:"payload"`
	}{Operation: resp.Op().String()}

	switch m := resp.(type) {
	case LookupUserResponse:
		if m.Exists && len(m.HashPrefix) != HashPrefixLen {
			return parseErr(OpLookupUser, "hash prefix must be %d bytes", HashPrefixLen)
		}
		env.Payload = jsonLookupUserResponse{Exists: m.Exists, HashPrefix: m.HashPrefix}
	case LoginResponse:
		env.Payload = jsonLoginResponse{Success: m.Success, UnreadMessages: m.UnreadMessages}
	case CreateAccountResponse:
		env.Payload = jsonSuccessResponse{Success: m.Success}
	case ListAccountsResponse:
		accounts := make([]jsonAccountSummary, len(m.Accounts))
		for i, acct := range m.Accounts {
			accounts[i] = jsonAccountSummary{ID: acct.ID, Username: acct.Username}
		}
		env.Payload = jsonListAccountsResponse{Accounts: accounts}
	case SendMessageResponse:
		env.Payload = jsonSendMessageResponse{Success: m.Success, MessageID: m.MessageID}
	case RequestMessagesResponse:
		messages := make([]jsonDeliveredMessage, len(m.Messages))
		for i, msg := range m.Messages {
			messages[i] = jsonDeliveredMessage{ID: msg.ID, Sender: msg.Sender, Message: msg.Message}
		}
		env.Payload = jsonRequestMessagesResponse{Messages: messages}
	case DeleteMessagesResponse:
		env.Payload = jsonSuccessResponse{Success: m.Success}
	case DeleteAccountResponse:
		env.Payload = struct{}{}
	case FailureResponse:
		env.Payload = jsonFailurePayload{Error: m.Message}
	default:
		return parseErr(resp.Op(), "unsupported response type")
	}
	return writeJSONLine(w, env)
}

// DecodeResponse parses one JSON response line (client side).
func (JSONCodec) DecodeResponse(r *bufio.Reader) (Response, error) {
	line, err := readLine(0, r)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, io.EOF
	}

	var env jsonEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, parseErr(OpUnknown, "could not parse response envelope")
	}
	op := OperationByName(env.Operation)
	if op == OpUnknown {
		return nil, parseErr(OpUnknown, "unknown operation %q", env.Operation)
	}

	// A failure payload carries an error field under the failed
	// operation's name.
	var failure jsonFailurePayload
	if env.Payload != nil {
		if err := json.Unmarshal(env.Payload, &failure); err == nil && failure.Error != "" {
			return FailureResponse{Operation: op, Message: failure.Error}, nil
		}
	}

	switch op {
	case OpLookupUser:
		var p jsonLookupUserResponse
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, parseErr(op, "invalid response payload")
		}
		return LookupUserResponse{Exists: p.Exists, HashPrefix: p.HashPrefix}, nil
	case OpLogin:
		var p jsonLoginResponse
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, parseErr(op, "invalid response payload")
		}
		return LoginResponse{Success: p.Success, UnreadMessages: p.UnreadMessages}, nil
	case OpCreateAccount:
		var p jsonSuccessResponse
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, parseErr(op, "invalid response payload")
		}
		return CreateAccountResponse{Success: p.Success}, nil
	case OpListAccounts:
		var p jsonListAccountsResponse
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, parseErr(op, "invalid response payload")
		}
		accounts := make([]AccountSummary, len(p.Accounts))
		for i, acct := range p.Accounts {
			accounts[i] = AccountSummary{ID: acct.ID, Username: acct.Username}
		}
		return ListAccountsResponse{Accounts: accounts}, nil
	case OpSendMessage:
		var p jsonSendMessageResponse
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, parseErr(op, "invalid response payload")
		}
		return SendMessageResponse{Success: p.Success, MessageID: p.MessageID}, nil
	case OpRequestMessages:
		var p jsonRequestMessagesResponse
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, parseErr(op, "invalid response payload")
		}
		messages := make([]DeliveredMessage, len(p.Messages))
		for i, msg := range p.Messages {
			messages[i] = DeliveredMessage{ID: msg.ID, Sender: msg.Sender, Message: msg.Message}
		}
		return RequestMessagesResponse{Messages: messages}, nil
	case OpDeleteMessages:
		var p jsonSuccessResponse
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, parseErr(op, "invalid response payload")
		}
		return DeleteMessagesResponse{Success: p.Success}, nil
	case OpDeleteAccount:
		return DeleteAccountResponse{}, nil
	}
	return nil, parseErr(op, "unknown operation")
}

func writeJSONLine(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
