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

import "testing"

func TestFrameRoundTrip(t *testing.T) {
	key := []byte("session-key")
	wr := NewChainedHMAC(key)
	rd := NewChainedHMAC(key)

	payloads := [][]byte{
		EncodeError(ErrorPayload{Message: "first"}),
		EncodeDone(DonePayload{Level: 3, Type: 4, NItems: 7}),
		{},
	}

	var wireBytes []byte
	for i, p := range payloads {
		cmd := CmdError
		if i == 1 {
			cmd = CmdDone
		}
		f, err := WriteFrame(wr, cmd, p)
		if err != nil {
			t.Fatalf("WriteFrame(%d): %v", i, err)
		}
		wireBytes = append(wireBytes, f...)
	}

	buf := wireBytes
	for i, want := range payloads {
		frame, consumed, ok, err := ReadFrame(rd, buf)
		if err != nil {
			t.Fatalf("ReadFrame(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("ReadFrame(%d): incomplete, want complete", i)
		}
		if string(frame.Payload) != string(want) {
			t.Errorf("ReadFrame(%d): payload = %q, want %q", i, frame.Payload, want)
		}
		buf = buf[consumed:]
	}
	if len(buf) != 0 {
		t.Errorf("%d trailing bytes after reading every frame", len(buf))
	}
}

func TestReadFrameIncomplete(t *testing.T) {
	key := []byte("k")
	wr := NewChainedHMAC(key)
	rd := NewChainedHMAC(key)

	full, err := WriteFrame(wr, CmdBye, nil)
	if err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	_, _, ok, err := ReadFrame(rd, full[:len(full)-1])
	if err != nil {
		t.Fatalf("ReadFrame on truncated input returned error: %v", err)
	}
	if ok {
		t.Fatal("ReadFrame reported a complete frame from truncated input")
	}
}

func TestReadFrameDetectsTamperedByte(t *testing.T) {
	key := []byte("k")
	wr := NewChainedHMAC(key)
	rd := NewChainedHMAC(key)

	f1, err := WriteFrame(wr, CmdDone, EncodeDone(DonePayload{Type: 3}))
	if err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	f2, err := WriteFrame(wr, CmdBye, nil)
	if err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	wireBytes := append(f1, f2...)

	wireBytes[0] ^= 0x01

	_, _, _, err = ReadFrame(rd, wireBytes)
	if err == nil {
		t.Fatal("expected decode error from tampered frame, got nil")
	}
}

func TestNetcmdEncodeDecodeRoundTrips(t *testing.T) {
	anon := AnonymousPayload{
		Role:                RoleSourceAndSink,
		IncludePattern:      "*",
		ExcludePattern:      "restricted*",
		SessionKeyEncrypted: []byte{1, 2, 3},
	}
	got, err := DecodeAnonymous(EncodeAnonymous(anon))
	if err != nil {
		t.Fatalf("DecodeAnonymous: %v", err)
	}
	if got.Role != anon.Role || got.IncludePattern != anon.IncludePattern ||
		got.ExcludePattern != anon.ExcludePattern || string(got.SessionKeyEncrypted) != string(anon.SessionKeyEncrypted) {
		t.Errorf("anonymous round trip: got %+v, want %+v", got, anon)
	}

	data := DataPayload{Type: 4, Payload: []byte("hello")}
	data.ID[0] = 0xAB
	gotData, err := DecodeData(EncodeData(data))
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if gotData.Type != data.Type || gotData.ID != data.ID || string(gotData.Payload) != string(data.Payload) {
		t.Errorf("data round trip: got %+v, want %+v", gotData, data)
	}
}
