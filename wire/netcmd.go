// Copyright 2026 The Netsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/opensync/netsync/merkle"
)

// CommandCode identifies the kind of payload a frame carries.
// Grounded on original_source/netcmd.hh's netcmd_code enum and
// spec.md §6's command table.
type CommandCode byte

const (
	CmdError       CommandCode = 0
	CmdBye         CommandCode = 1
	CmdHello       CommandCode = 2
	CmdAnonymous   CommandCode = 3
	CmdAuth        CommandCode = 4
	CmdConfirm     CommandCode = 5
	CmdRefine      CommandCode = 6
	CmdDone        CommandCode = 7
	CmdSendData    CommandCode = 8
	CmdSendDelta   CommandCode = 9
	CmdData        CommandCode = 10
	CmdDelta       CommandCode = 11
	CmdNonexistent CommandCode = 12
	CmdUsher       CommandCode = 100
	CmdUsherReply  CommandCode = 101
)

func (c CommandCode) String() string {
	switch c {
	case CmdError:
		return "error"
	case CmdBye:
		return "bye"
	case CmdHello:
		return "hello"
	case CmdAnonymous:
		return "anonymous"
	case CmdAuth:
		return "auth"
	case CmdConfirm:
		return "confirm"
	case CmdRefine:
		return "refine"
	case CmdDone:
		return "done"
	case CmdSendData:
		return "send_data"
	case CmdSendDelta:
		return "send_delta"
	case CmdData:
		return "data"
	case CmdDelta:
		return "delta"
	case CmdNonexistent:
		return "nonexistent"
	case CmdUsher:
		return "usher"
	case CmdUsherReply:
		return "usher_reply"
	default:
		return fmt.Sprintf("cmd(%d)", byte(c))
	}
}

// Role is the wire encoding of which side of the object flow a peer
// plays: source (sends only), sink (receives only), or both.
type Role byte

const (
	RoleSource        Role = 1
	RoleSink          Role = 2
	RoleSourceAndSink Role = 3
)

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleSink:
		return "sink"
	case RoleSourceAndSink:
		return "source-and-sink"
	default:
		return fmt.Sprintf("role(%d)", byte(r))
	}
}

// Opposite returns the role the server assumes given the client's
// requested role, per spec.md §4.5's "opposite-role" rule.
func (r Role) Opposite() Role {
	switch r {
	case RoleSource:
		return RoleSink
	case RoleSink:
		return RoleSource
	case RoleSourceAndSink:
		return RoleSourceAndSink
	default:
		return r
	}
}

// RefineKind distinguishes a refinement query from a response.
type RefineKind byte

const (
	RefineQuery    RefineKind = 0
	RefineResponse RefineKind = 1
)

// --- payload structs ---

type ErrorPayload struct{ Message string }

type HelloPayload struct {
	ServerKeyID string
	ServerKey   []byte
	Nonce       [merkle.IDLen]byte
}

type AnonymousPayload struct {
	Role              Role
	IncludePattern    string
	ExcludePattern    string
	SessionKeyEncrypted []byte
}

type AuthPayload struct {
	Anonymous    AnonymousPayload
	ClientKeyID  [merkle.IDLen]byte
	NonceEcho    [merkle.IDLen]byte
	Signature    []byte
}

type RefinePayload struct {
	Kind RefineKind
	Node *merkle.Node
}

type DonePayload struct {
	Level  uint64
	Type   merkle.ObjectType
	NItems uint64
}

type SendDataPayload struct {
	Type merkle.ObjectType
	ID   merkle.ID
}

type SendDeltaPayload struct {
	Type   merkle.ObjectType
	BaseID merkle.ID
	TargetID merkle.ID
}

type DataPayload struct {
	Type    merkle.ObjectType
	ID      merkle.ID
	Payload []byte
}

type DeltaPayload struct {
	Type     merkle.ObjectType
	BaseID   merkle.ID
	TargetID merkle.ID
	Delta    []byte
}

type NonexistentPayload struct {
	Type merkle.ObjectType
	ID   merkle.ID
}

// --- low-level helpers (length-prefixed strings/bytes, uleb128) ---

type encoder struct{ buf []byte }

func (e *encoder) byte(b byte) { e.buf = append(e.buf, b) }

func (e *encoder) uvarint(v uint64) {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], v)
	e.buf = append(e.buf, scratch[:n]...)
}

func (e *encoder) fixed(b []byte) { e.buf = append(e.buf, b...) }

func (e *encoder) lenPrefixed(b []byte) {
	e.uvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) lenPrefixedString(s string) { e.lenPrefixed([]byte(s)) }

type decoder struct {
	buf []byte
	pos int
}

func newDecoder(b []byte) *decoder { return &decoder{buf: b} }

func (d *decoder) byte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, fmt.Errorf("wire: truncated reading byte")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("wire: truncated or malformed varint")
	}
	d.pos += n
	return v, nil
}

func (d *decoder) fixed(n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, fmt.Errorf("wire: truncated reading %d fixed bytes", n)
	}
	out := d.buf[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

func (d *decoder) lenPrefixed() ([]byte, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	return d.fixed(int(n))
}

func (d *decoder) lenPrefixedString() (string, error) {
	b, err := d.lenPrefixed()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) id() (merkle.ID, error) {
	b, err := d.fixed(merkle.IDLen)
	if err != nil {
		return merkle.ID{}, err
	}
	return merkle.IDFromBytes(b)
}

func (d *decoder) assertEnd() error {
	if d.pos != len(d.buf) {
		return fmt.Errorf("wire: %d trailing bytes after payload", len(d.buf)-d.pos)
	}
	return nil
}

// --- encode ---

func EncodeError(p ErrorPayload) []byte {
	e := &encoder{}
	e.lenPrefixedString(p.Message)
	return e.buf
}

func EncodeHello(p HelloPayload) []byte {
	e := &encoder{}
	e.lenPrefixedString(p.ServerKeyID)
	e.lenPrefixed(p.ServerKey)
	e.fixed(p.Nonce[:])
	return e.buf
}

func encodeAnonymous(e *encoder, p AnonymousPayload) {
	e.byte(byte(p.Role))
	e.lenPrefixedString(p.IncludePattern)
	e.lenPrefixedString(p.ExcludePattern)
	e.lenPrefixed(p.SessionKeyEncrypted)
}

func EncodeAnonymous(p AnonymousPayload) []byte {
	e := &encoder{}
	encodeAnonymous(e, p)
	return e.buf
}

func EncodeAuth(p AuthPayload) []byte {
	e := &encoder{}
	encodeAnonymous(e, p.Anonymous)
	e.fixed(p.ClientKeyID[:])
	e.fixed(p.NonceEcho[:])
	e.lenPrefixed(p.Signature)
	return e.buf
}

func EncodeRefine(p RefinePayload) ([]byte, error) {
	e := &encoder{}
	e.byte(byte(p.Kind))
	ser, err := p.Node.Serialize()
	if err != nil {
		return nil, err
	}
	e.fixed(ser)
	return e.buf, nil
}

func EncodeDone(p DonePayload) []byte {
	e := &encoder{}
	e.uvarint(p.Level)
	e.byte(byte(p.Type))
	e.uvarint(p.NItems)
	return e.buf
}

func EncodeSendData(p SendDataPayload) []byte {
	e := &encoder{}
	e.byte(byte(p.Type))
	e.fixed(p.ID[:])
	return e.buf
}

func EncodeSendDelta(p SendDeltaPayload) []byte {
	e := &encoder{}
	e.byte(byte(p.Type))
	e.fixed(p.BaseID[:])
	e.fixed(p.TargetID[:])
	return e.buf
}

func EncodeData(p DataPayload) []byte {
	e := &encoder{}
	e.byte(byte(p.Type))
	e.fixed(p.ID[:])
	e.lenPrefixed(p.Payload)
	return e.buf
}

func EncodeDelta(p DeltaPayload) []byte {
	e := &encoder{}
	e.byte(byte(p.Type))
	e.fixed(p.BaseID[:])
	e.fixed(p.TargetID[:])
	e.lenPrefixed(p.Delta)
	return e.buf
}

func EncodeNonexistent(p NonexistentPayload) []byte {
	e := &encoder{}
	e.byte(byte(p.Type))
	e.fixed(p.ID[:])
	return e.buf
}

// --- decode ---

func DecodeErrorPayload(payload []byte) (ErrorPayload, error) {
	d := newDecoder(payload)
	msg, err := d.lenPrefixedString()
	if err != nil {
		return ErrorPayload{}, err
	}
	if err := d.assertEnd(); err != nil {
		return ErrorPayload{}, err
	}
	return ErrorPayload{Message: msg}, nil
}

func DecodeHello(payload []byte) (HelloPayload, error) {
	d := newDecoder(payload)
	keyID, err := d.lenPrefixedString()
	if err != nil {
		return HelloPayload{}, err
	}
	key, err := d.lenPrefixed()
	if err != nil {
		return HelloPayload{}, err
	}
	nonce, err := d.fixed(merkle.IDLen)
	if err != nil {
		return HelloPayload{}, err
	}
	if err := d.assertEnd(); err != nil {
		return HelloPayload{}, err
	}
	var p HelloPayload
	p.ServerKeyID = keyID
	p.ServerKey = append([]byte(nil), key...)
	copy(p.Nonce[:], nonce)
	return p, nil
}

func decodeAnonymous(d *decoder) (AnonymousPayload, error) {
	var p AnonymousPayload
	roleByte, err := d.byte()
	if err != nil {
		return p, err
	}
	p.Role = Role(roleByte)
	if p.IncludePattern, err = d.lenPrefixedString(); err != nil {
		return p, err
	}
	if p.ExcludePattern, err = d.lenPrefixedString(); err != nil {
		return p, err
	}
	key, err := d.lenPrefixed()
	if err != nil {
		return p, err
	}
	p.SessionKeyEncrypted = append([]byte(nil), key...)
	return p, nil
}

func DecodeAnonymous(payload []byte) (AnonymousPayload, error) {
	d := newDecoder(payload)
	p, err := decodeAnonymous(d)
	if err != nil {
		return p, err
	}
	if err := d.assertEnd(); err != nil {
		return p, err
	}
	return p, nil
}

func DecodeAuth(payload []byte) (AuthPayload, error) {
	d := newDecoder(payload)
	anon, err := decodeAnonymous(d)
	if err != nil {
		return AuthPayload{}, err
	}
	clientKeyID, err := d.fixed(merkle.IDLen)
	if err != nil {
		return AuthPayload{}, err
	}
	nonceEcho, err := d.fixed(merkle.IDLen)
	if err != nil {
		return AuthPayload{}, err
	}
	sig, err := d.lenPrefixed()
	if err != nil {
		return AuthPayload{}, err
	}
	if err := d.assertEnd(); err != nil {
		return AuthPayload{}, err
	}
	var p AuthPayload
	p.Anonymous = anon
	copy(p.ClientKeyID[:], clientKeyID)
	copy(p.NonceEcho[:], nonceEcho)
	p.Signature = append([]byte(nil), sig...)
	return p, nil
}

func DecodeRefine(payload []byte) (RefinePayload, error) {
	d := newDecoder(payload)
	kindByte, err := d.byte()
	if err != nil {
		return RefinePayload{}, err
	}
	node, err := merkle.DeserializeNode(d.buf[d.pos:])
	if err != nil {
		return RefinePayload{}, err
	}
	return RefinePayload{Kind: RefineKind(kindByte), Node: node}, nil
}

func DecodeDone(payload []byte) (DonePayload, error) {
	d := newDecoder(payload)
	level, err := d.uvarint()
	if err != nil {
		return DonePayload{}, err
	}
	typByte, err := d.byte()
	if err != nil {
		return DonePayload{}, err
	}
	n, err := d.uvarint()
	if err != nil {
		return DonePayload{}, err
	}
	if err := d.assertEnd(); err != nil {
		return DonePayload{}, err
	}
	return DonePayload{Level: level, Type: merkle.ObjectType(typByte), NItems: n}, nil
}

func DecodeSendData(payload []byte) (SendDataPayload, error) {
	d := newDecoder(payload)
	typByte, err := d.byte()
	if err != nil {
		return SendDataPayload{}, err
	}
	id, err := d.id()
	if err != nil {
		return SendDataPayload{}, err
	}
	if err := d.assertEnd(); err != nil {
		return SendDataPayload{}, err
	}
	return SendDataPayload{Type: merkle.ObjectType(typByte), ID: id}, nil
}

func DecodeSendDelta(payload []byte) (SendDeltaPayload, error) {
	d := newDecoder(payload)
	typByte, err := d.byte()
	if err != nil {
		return SendDeltaPayload{}, err
	}
	base, err := d.id()
	if err != nil {
		return SendDeltaPayload{}, err
	}
	target, err := d.id()
	if err != nil {
		return SendDeltaPayload{}, err
	}
	if err := d.assertEnd(); err != nil {
		return SendDeltaPayload{}, err
	}
	return SendDeltaPayload{Type: merkle.ObjectType(typByte), BaseID: base, TargetID: target}, nil
}

func DecodeData(payload []byte) (DataPayload, error) {
	d := newDecoder(payload)
	typByte, err := d.byte()
	if err != nil {
		return DataPayload{}, err
	}
	id, err := d.id()
	if err != nil {
		return DataPayload{}, err
	}
	bodyBytes, err := d.lenPrefixed()
	if err != nil {
		return DataPayload{}, err
	}
	if err := d.assertEnd(); err != nil {
		return DataPayload{}, err
	}
	return DataPayload{Type: merkle.ObjectType(typByte), ID: id, Payload: append([]byte(nil), bodyBytes...)}, nil
}

func DecodeDelta(payload []byte) (DeltaPayload, error) {
	d := newDecoder(payload)
	typByte, err := d.byte()
	if err != nil {
		return DeltaPayload{}, err
	}
	base, err := d.id()
	if err != nil {
		return DeltaPayload{}, err
	}
	target, err := d.id()
	if err != nil {
		return DeltaPayload{}, err
	}
	deltaBytes, err := d.lenPrefixed()
	if err != nil {
		return DeltaPayload{}, err
	}
	if err := d.assertEnd(); err != nil {
		return DeltaPayload{}, err
	}
	return DeltaPayload{Type: merkle.ObjectType(typByte), BaseID: base, TargetID: target, Delta: append([]byte(nil), deltaBytes...)}, nil
}

func DecodeNonexistent(payload []byte) (NonexistentPayload, error) {
	d := newDecoder(payload)
	typByte, err := d.byte()
	if err != nil {
		return NonexistentPayload{}, err
	}
	id, err := d.id()
	if err != nil {
		return NonexistentPayload{}, err
	}
	if err := d.assertEnd(); err != nil {
		return NonexistentPayload{}, err
	}
	return NonexistentPayload{Type: merkle.ObjectType(typByte), ID: id}, nil
}
