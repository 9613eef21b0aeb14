package protocol

import (
	"bufio"
	"bytes"
	"io"
)

// WireCodec implements the binary, length-prefixed framing. All integers
// are big-endian; string prefix widths are operation-specific (1 byte for
// usernames and filters, 2 bytes for message bodies).
type WireCodec struct{}

func (WireCodec) Name() string { return "wire" }

// DecodeRequest parses a binary request. first is the already-consumed
// opcode byte.
func (WireCodec) DecodeRequest(first byte, r *bufio.Reader) (Request, error) {
	op := Operation(first)
	switch op {
	case OpLookupUser:
		username, err := ReadString(r, 1)
		if err != nil {
			return nil, parseErr(op, "truncated request")
		}
		return LookupUserRequest{Username: username}, nil

	case OpLogin, OpCreateAccount:
		username, err := ReadString(r, 1)
		if err != nil {
			return nil, parseErr(op, "truncated request")
		}
		passwordHash, err := ReadString(r, 1)
		if err != nil {
			return nil, parseErr(op, "truncated request")
		}
		if op == OpLogin {
			return LoginRequest{Username: username, PasswordHash: passwordHash}, nil
		}
		return CreateAccountRequest{Username: username, PasswordHash: passwordHash}, nil

	case OpListAccounts:
		maxNumber, err := ReadUint8(r)
		if err != nil {
			return nil, parseErr(op, "truncated request")
		}
		offsetID, err := ReadUint32(r)
		if err != nil {
			return nil, parseErr(op, "truncated request")
		}
		filter, err := ReadString(r, 1)
		if err != nil {
			return nil, parseErr(op, "truncated request")
		}
		return ListAccountsRequest{
			MaximumNumber:   maxNumber,
			OffsetAccountID: offsetID,
			FilterText:      filter,
		}, nil

	case OpSendMessage:
		recipient, err := ReadString(r, 1)
		if err != nil {
			return nil, parseErr(op, "truncated request")
		}
		message, err := ReadString(r, 2)
		if err != nil {
			return nil, parseErr(op, "truncated request")
		}
		return SendMessageRequest{Recipient: recipient, Message: message}, nil

	case OpRequestMessages:
		maxNumber, err := ReadUint8(r)
		if err != nil {
			return nil, parseErr(op, "truncated request")
		}
		return RequestMessagesRequest{MaximumNumber: maxNumber}, nil

	case OpDeleteMessages:
		count, err := ReadUint8(r)
		if err != nil {
			return nil, parseErr(op, "truncated request")
		}
		ids := make([]uint32, 0, count)
		for i := 0; i < int(count); i++ {
			id, err := ReadUint32(r)
			if err != nil {
				return nil, parseErr(op, "truncated request")
			}
			ids = append(ids, id)
		}
		return DeleteMessagesRequest{MessageIDs: ids}, nil

	case OpDeleteAccount:
		return DeleteAccountRequest{}, nil

	default:
		return nil, parseErr(OpUnknown, "unknown operation code %d", first)
	}
}

// EncodeRequest writes a binary request (client side).
func (WireCodec) EncodeRequest(w io.Writer, req Request) error {
	buf := new(bytes.Buffer)
	if err := WriteUint8(buf, uint8(req.Op())); err != nil {
		return err
	}
	switch m := req.(type) {
	case LookupUserRequest:
		if err := WriteString(buf, m.Username, 1); err != nil {
			return err
		}
	case LoginRequest:
		if err := WriteString(buf, m.Username, 1); err != nil {
			return err
		}
		if err := WriteString(buf, m.PasswordHash, 1); err != nil {
			return err
		}
	case CreateAccountRequest:
		if err := WriteString(buf, m.Username, 1); err != nil {
			return err
		}
		if err := WriteString(buf, m.PasswordHash, 1); err != nil {
			return err
		}
	case ListAccountsRequest:
		if err := WriteUint8(buf, m.MaximumNumber); err != nil {
			return err
		}
		if err := WriteUint32(buf, m.OffsetAccountID); err != nil {
			return err
		}
		if err := WriteString(buf, m.FilterText, 1); err != nil {
			return err
		}
	case SendMessageRequest:
		if err := WriteString(buf, m.Recipient, 1); err != nil {
			return err
		}
		if err := WriteString(buf, m.Message, 2); err != nil {
			return err
		}
	case RequestMessagesRequest:
		if err := WriteUint8(buf, m.MaximumNumber); err != nil {
			return err
		}
	case DeleteMessagesRequest:
		if len(m.MessageIDs) > 0xFF {
			return ErrListTooLong
		}
		if err := WriteUint8(buf, uint8(len(m.MessageIDs))); err != nil {
			return err
		}
		for _, id := range m.MessageIDs {
			if err := WriteUint32(buf, id); err != nil {
				return err
			}
		}
	case DeleteAccountRequest:
		// Opcode only.
	default:
		return parseErr(req.Op(), "unsupported request type")
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// EncodeResponse writes a binary response as a single Write call so a
// frame can never interleave with another writer holding the same lock
// discipline.
func (WireCodec) EncodeResponse(w io.Writer, resp Response) error {
	buf := new(bytes.Buffer)
	switch m := resp.(type) {
	case LookupUserResponse:
		WriteUint8(buf, uint8(OpLookupUser))
		if m.Exists {
			if len(m.HashPrefix) != HashPrefixLen {
				return parseErr(OpLookupUser, "hash prefix must be %d bytes", HashPrefixLen)
			}
			WriteUint8(buf, 1)
			buf.WriteString(m.HashPrefix)
		} else {
			WriteUint8(buf, 0)
		}

	case LoginResponse:
		WriteUint8(buf, uint8(OpLogin))
		if m.Success {
			WriteUint8(buf, 1)
			WriteUint16(buf, m.UnreadMessages)
		} else {
			WriteUint8(buf, 0)
		}

	case CreateAccountResponse:
		WriteUint8(buf, uint8(OpCreateAccount))
		WriteUint8(buf, boolByte(m.Success))

	case ListAccountsResponse:
		if len(m.Accounts) > 0xFF {
			return ErrListTooLong
		}
		WriteUint8(buf, uint8(OpListAccounts))
		WriteUint8(buf, uint8(len(m.Accounts)))
		for _, acct := range m.Accounts {
			WriteUint32(buf, acct.ID)
			if err := WriteString(buf, acct.Username, 1); err != nil {
				return err
			}
		}

	case SendMessageResponse:
		WriteUint8(buf, uint8(OpSendMessage))
		WriteUint8(buf, boolByte(m.Success))
		WriteUint32(buf, m.MessageID)

	case RequestMessagesResponse:
		if len(m.Messages) > 0xFF {
			return ErrListTooLong
		}
		WriteUint8(buf, uint8(OpRequestMessages))
		WriteUint8(buf, uint8(len(m.Messages)))
		for _, msg := range m.Messages {
			WriteUint32(buf, msg.ID)
			if err := WriteString(buf, msg.Sender, 1); err != nil {
				return err
			}
			if err := WriteString(buf, msg.Message, 2); err != nil {
				return err
			}
		}

	case DeleteMessagesResponse:
		WriteUint8(buf, uint8(OpDeleteMessages))
		WriteUint8(buf, boolByte(m.Success))

	case DeleteAccountResponse:
		WriteUint8(buf, uint8(OpDeleteAccount))

	case FailureResponse:
		WriteUint8(buf, FailureOpcode)
		WriteUint8(buf, uint8(m.Operation))
		if err := WriteString(buf, m.Message, 2); err != nil {
			return err
		}

	default:
		return parseErr(resp.Op(), "unsupported response type")
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// DecodeResponse parses a binary response (client side).
func (WireCodec) DecodeResponse(r *bufio.Reader) (Response, error) {
	first, err := ReadUint8(r)
	if err != nil {
		return nil, err
	}

	if first == FailureOpcode {
		failedOp, err := ReadUint8(r)
		if err != nil {
			return nil, parseErr(OpUnknown, "truncated failure response")
		}
		message, err := ReadString(r, 2)
		if err != nil {
			return nil, parseErr(Operation(failedOp), "truncated failure response")
		}
		return FailureResponse{Operation: Operation(failedOp), Message: message}, nil
	}

	op := Operation(first)
	switch op {
	case OpLookupUser:
		exists, err := ReadUint8(r)
		if err != nil {
			return nil, parseErr(op, "truncated response")
		}
		if exists == 0 {
			return LookupUserResponse{Exists: false}, nil
		}
		prefix := make([]byte, HashPrefixLen)
		if _, err := io.ReadFull(r, prefix); err != nil {
			return nil, parseErr(op, "truncated response")
		}
		return LookupUserResponse{Exists: true, HashPrefix: string(prefix)}, nil

	case OpLogin:
		success, err := ReadUint8(r)
		if err != nil {
			return nil, parseErr(op, "truncated response")
		}
		if success == 0 {
			return LoginResponse{Success: false}, nil
		}
		unread, err := ReadUint16(r)
		if err != nil {
			return nil, parseErr(op, "truncated response")
		}
		return LoginResponse{Success: true, UnreadMessages: unread}, nil

	case OpCreateAccount:
		success, err := ReadUint8(r)
		if err != nil {
			return nil, parseErr(op, "truncated response")
		}
		return CreateAccountResponse{Success: success != 0}, nil

	case OpListAccounts:
		count, err := ReadUint8(r)
		if err != nil {
			return nil, parseErr(op, "truncated response")
		}
		accounts := make([]AccountSummary, 0, count)
		for i := 0; i < int(count); i++ {
			id, err := ReadUint32(r)
			if err != nil {
				return nil, parseErr(op, "truncated response")
			}
			username, err := ReadString(r, 1)
			if err != nil {
				return nil, parseErr(op, "truncated response")
			}
			accounts = append(accounts, AccountSummary{ID: id, Username: username})
		}
		return ListAccountsResponse{Accounts: accounts}, nil

	case OpSendMessage:
		success, err := ReadUint8(r)
		if err != nil {
			return nil, parseErr(op, "truncated response")
		}
		id, err := ReadUint32(r)
		if err != nil {
			return nil, parseErr(op, "truncated response")
		}
		return SendMessageResponse{Success: success != 0, MessageID: id}, nil

	case OpRequestMessages:
		count, err := ReadUint8(r)
		if err != nil {
			return nil, parseErr(op, "truncated response")
		}
		messages := make([]DeliveredMessage, 0, count)
		for i := 0; i < int(count); i++ {
			id, err := ReadUint32(r)
			if err != nil {
				return nil, parseErr(op, "truncated response")
			}
			sender, err := ReadString(r, 1)
			if err != nil {
				return nil, parseErr(op, "truncated response")
			}
			body, err := ReadString(r, 2)
			if err != nil {
				return nil, parseErr(op, "truncated response")
			}
			messages = append(messages, DeliveredMessage{ID: id, Sender: sender, Message: body})
		}
		return RequestMessagesResponse{Messages: messages}, nil

	case OpDeleteMessages:
		success, err := ReadUint8(r)
		if err != nil {
			return nil, parseErr(op, "truncated response")
		}
		return DeleteMessagesResponse{Success: success != 0}, nil

	case OpDeleteAccount:
		return DeleteAccountResponse{}, nil

	default:
		return nil, parseErr(OpUnknown, "unknown response opcode %d", first)
	}
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
