package protocol

import (
	"bufio"
	"bytes"
	"reflect"
	"testing"

	"pgregory.net/rapid"
)

func roundTripRequest(t *rapid.T, codec Codec, req Request) {
	var buf bytes.Buffer
	if err := codec.EncodeRequest(&buf, req); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	r := bufio.NewReader(&buf)
	first, err := r.ReadByte()
	if err != nil {
		t.Fatalf("read first byte: %v", err)
	}
	decoded, err := codec.DecodeRequest(first, r)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(req, decoded) {
		t.Fatalf("mismatch: sent %#v, got %#v", req, decoded)
	}
}

func roundTripResponse(t *rapid.T, codec Codec, resp Response) {
	var buf bytes.Buffer
	if err := codec.EncodeResponse(&buf, resp); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := codec.DecodeResponse(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(resp, decoded) {
		t.Fatalf("mismatch: sent %#v, got %#v", resp, decoded)
	}
}

// Usernames are bounded by the 1-byte wire length prefix.
func genUsername(t *rapid.T, label string) string {
	return rapid.StringN(1, 40, 255).Draw(t, label)
}

func TestSendMessageRoundTripRapid(t *testing.T) {
	for _, codec := range []Codec{WireCodec{}, JSONCodec{}} {
		codec := codec
		t.Run(codec.Name(), func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				req := SendMessageRequest{
					Recipient: genUsername(t, "recipient"),
					Message:   rapid.StringN(0, 500, 2000).Draw(t, "message"),
				}
				roundTripRequest(t, codec, req)
			})
		})
	}
}

func TestLoginRoundTripRapid(t *testing.T) {
	for _, codec := range []Codec{WireCodec{}, JSONCodec{}} {
		codec := codec
		t.Run(codec.Name(), func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				req := LoginRequest{
					Username:     genUsername(t, "username"),
					PasswordHash: rapid.StringN(0, 60, 255).Draw(t, "hash"),
				}
				roundTripRequest(t, codec, req)
			})
		})
	}
}

func TestListAccountsRoundTripRapid(t *testing.T) {
	for _, codec := range []Codec{WireCodec{}, JSONCodec{}} {
		codec := codec
		t.Run(codec.Name(), func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				req := ListAccountsRequest{
					MaximumNumber:   rapid.Uint8().Draw(t, "max"),
					OffsetAccountID: rapid.Uint32().Draw(t, "offset"),
					FilterText:      rapid.StringN(0, 30, 255).Draw(t, "filter"),
				}
				roundTripRequest(t, codec, req)
			})
		})
	}
}

func TestDeleteMessagesRoundTripRapid(t *testing.T) {
	for _, codec := range []Codec{WireCodec{}, JSONCodec{}} {
		codec := codec
		t.Run(codec.Name(), func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				n := rapid.IntRange(0, 255).Draw(t, "count")
				ids := make([]uint32, n)
				for i := range ids {
					ids[i] = rapid.Uint32().Draw(t, "id")
				}
				roundTripRequest(t, codec, DeleteMessagesRequest{MessageIDs: ids})
			})
		})
	}
}

func TestMessageListRoundTripRapid(t *testing.T) {
	for _, codec := range []Codec{WireCodec{}, JSONCodec{}} {
		codec := codec
		t.Run(codec.Name(), func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				n := rapid.IntRange(0, 20).Draw(t, "count")
				messages := make([]DeliveredMessage, n)
				for i := range messages {
					messages[i] = DeliveredMessage{
						ID:      rapid.Uint32().Draw(t, "id"),
						Sender:  genUsername(t, "sender"),
						Message: rapid.StringN(0, 200, 1000).Draw(t, "body"),
					}
				}
				roundTripResponse(t, codec, RequestMessagesResponse{Messages: messages})
			})
		})
	}
}

func TestFailureRoundTripRapid(t *testing.T) {
	ops := []Operation{
		OpLookupUser, OpLogin, OpCreateAccount, OpListAccounts,
		OpSendMessage, OpRequestMessages, OpDeleteMessages, OpDeleteAccount,
	}
	for _, codec := range []Codec{WireCodec{}, JSONCodec{}} {
		codec := codec
		t.Run(codec.Name(), func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				resp := FailureResponse{
					Operation: rapid.SampledFrom(ops).Draw(t, "op"),
					Message:   rapid.StringN(1, 100, 500).Draw(t, "message"),
				}
				roundTripResponse(t, codec, resp)
			})
		})
	}
}
