package worker

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bardlex/oreminer/internal/ledger"
	"github.com/bardlex/oreminer/pkg/errors"
)

// Wire format, protobuf-compatible:
//
//	message WorkerRequest {
//	  oneof msg {
//	    Pause pause = 1;   // empty message
//	    MineRequest mine = 2;
//	  }
//	}
//	message MineRequest {
//	  bytes challenge_hash = 1;  // 32 bytes
//	  bytes difficulty = 2;      // 32 bytes
//	  bytes public_key = 3;      // 32 bytes
//	}
//	message WorkerResponse {
//	  bytes solution_hash = 1;   // 32 bytes
//	  uint64 nonce = 2;
//	}
const (
	fieldPause protowire.Number = 1
	fieldMine  protowire.Number = 2

	fieldChallenge  protowire.Number = 1
	fieldDifficulty protowire.Number = 2
	fieldPublicKey  protowire.Number = 3

	fieldSolution protowire.Number = 1
	fieldNonce    protowire.Number = 2
)

// EncodeRequest serializes a worker request
func EncodeRequest(req Request) ([]byte, error) {
	switch req.Kind {
	case KindPause:
		b := protowire.AppendTag(nil, fieldPause, protowire.BytesType)
		return protowire.AppendBytes(b, nil), nil
	case KindMine:
		var inner []byte
		inner = appendBytesField(inner, fieldChallenge, req.Mine.Challenge[:])
		inner = appendBytesField(inner, fieldDifficulty, req.Mine.Difficulty[:])
		inner = appendBytesField(inner, fieldPublicKey, req.Mine.PublicKey[:])
		return appendBytesField(nil, fieldMine, inner), nil
	default:
		return nil, errors.New(errors.ErrorTypeValidation, "encode_request",
			"unknown request kind").WithContext("kind", req.Kind.String())
	}
}

// DecodeRequest parses a worker request
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch num {
		case fieldPause:
			req = Pause()
		case fieldMine:
			mine, err := decodeMineRequest(value)
			if err != nil {
				return err
			}
			req = Mine(mine)
		}
		return nil
	})
	if err != nil {
		return Request{}, wrapDecode(err, "decode_request")
	}
	if req.Kind == 0 {
		return Request{}, errors.New(errors.ErrorTypeValidation, "decode_request",
			"message carries neither pause nor mine")
	}
	return req, nil
}

func decodeMineRequest(data []byte) (ledger.MineRequest, error) {
	var req ledger.MineRequest
	seen := 0
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		var dst []byte
		switch num {
		case fieldChallenge:
			dst = req.Challenge[:]
		case fieldDifficulty:
			dst = req.Difficulty[:]
		case fieldPublicKey:
			dst = req.PublicKey[:]
		default:
			return nil
		}
		if typ != protowire.BytesType || len(value) != len(dst) {
			return fmt.Errorf("field %d: want %d bytes, got %d", num, len(dst), len(value))
		}
		copy(dst, value)
		seen++
		return nil
	})
	if err != nil {
		return req, err
	}
	if seen != 3 {
		return req, fmt.Errorf("mine request has %d of 3 fields", seen)
	}
	return req, nil
}

// EncodeResponse serializes a worker response
func EncodeResponse(resp ledger.MineResponse) []byte {
	b := appendBytesField(nil, fieldSolution, resp.Hash[:])
	b = protowire.AppendTag(b, fieldNonce, protowire.VarintType)
	return protowire.AppendVarint(b, resp.Nonce)
}

// DecodeResponse parses a worker response
func DecodeResponse(data []byte) (ledger.MineResponse, error) {
	var resp ledger.MineResponse
	hasHash := false

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return resp, wrapDecode(protowire.ParseError(n), "decode_response")
		}
		b = b[n:]

		switch {
		case num == fieldSolution && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return resp, wrapDecode(protowire.ParseError(n), "decode_response")
			}
			if len(v) != ledger.HashSize {
				return resp, wrapDecode(fmt.Errorf("solution hash has %d bytes", len(v)), "decode_response")
			}
			copy(resp.Hash[:], v)
			hasHash = true
			b = b[n:]
		case num == fieldNonce && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return resp, wrapDecode(protowire.ParseError(n), "decode_response")
			}
			resp.Nonce = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return resp, wrapDecode(protowire.ParseError(n), "decode_response")
			}
			b = b[n:]
		}
	}

	if !hasHash {
		return resp, wrapDecode(fmt.Errorf("missing solution hash"), "decode_response")
	}
	return resp, nil
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// walkFields calls fn for every length-delimited field and skips the rest
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, value []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			continue
		}

		value, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		if err := fn(num, typ, value); err != nil {
			return err
		}
	}
	return nil
}

func wrapDecode(err error, op string) error {
	return errors.Wrap(err, errors.ErrorTypeValidation, op, "malformed worker message")
}
