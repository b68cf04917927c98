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

import "fmt"

// processBye handles an incoming bye: records it, and if we have also
// sent our own bye, the session is ready to close once output drains
// (spec.md §4.5 shutdown rule).
func (s *Session) processBye() error {
	if s.state != Draining && s.state != Goodbye {
		return fmt.Errorf("session: bye received in state %s", s.state)
	}
	s.recvGoodbye = true
	return s.maybeClose()
}
