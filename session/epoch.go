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

package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/opensync/netsync/merkle"
)

// encodeEpochPayload packs a branch name and its epoch value into the
// opaque bytes an epoch object's data frame carries. Grounded on
// original_source/netsync.cc's write_epoch, which serializes the same
// pair ahead of the raw epoch value.
func encodeEpochPayload(branch string, epoch []byte) []byte {
	out := make([]byte, 2+len(branch)+len(epoch))
	binary.BigEndian.PutUint16(out, uint16(len(branch)))
	copy(out[2:], branch)
	copy(out[2+len(branch):], epoch)
	return out
}

func decodeEpochPayload(b []byte) (branch string, epoch []byte, err error) {
	if len(b) < 2 {
		return "", nil, fmt.Errorf("session: epoch payload too short")
	}
	n := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+n {
		return "", nil, fmt.Errorf("session: epoch payload truncated branch name")
	}
	return string(b[2 : 2+n]), b[2+n:], nil
}

// checkEpochAgreement implements spec.md §7's epoch-mismatch abort:
// before an incoming epoch object is ever written to the store, its
// branch is checked against every epoch this side already holds for
// that branch. A disagreement aborts the session before the write
// happens. Grounded on original_source/netsync.cc's epoch_item branch
// of process_data_cmd, which compares against app.db.get_epochs()
// before calling set_epoch/write_epoch.
func (s *Session) checkEpochAgreement(ctx context.Context, payload []byte) error {
	branch, peerEpoch, err := decodeEpochPayload(payload)
	if err != nil {
		return fmt.Errorf("session: decoding epoch payload: %w", err)
	}
	localIDs, err := s.cfg.Store.AllIDs(ctx, merkle.ObjectEpoch)
	if err != nil {
		return err
	}
	for _, id := range localIDs {
		body, err := s.cfg.Store.Get(ctx, merkle.ObjectEpoch, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return err
		}
		localBranch, localEpoch, err := decodeEpochPayload(body)
		if err != nil {
			return fmt.Errorf("session: decoding local epoch payload: %w", err)
		}
		if localBranch != branch {
			continue
		}
		if !bytes.Equal(localEpoch, peerEpoch) {
			return &ErrEpochMismatch{
				Branch:     branch,
				LocalEpoch: hex.EncodeToString(localEpoch),
				PeerEpoch:  hex.EncodeToString(peerEpoch),
			}
		}
		return nil
	}
	return nil
}
