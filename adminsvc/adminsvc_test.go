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

package adminsvc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opensync/netsync/session"
	"github.com/opensync/netsync/storage/memstore"
)

func newTestSession() *session.Session {
	return session.New(session.Config{
		Voice: session.ServerVoice,
		Store: memstore.New(),
	})
}

func TestListAndGetSession(t *testing.T) {
	reg := NewRegistry()
	reg.Register("abc", "10.0.0.1:4691", session.ServerVoice, newTestSession())

	srv := New(reg, nil)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /sessions status = %d", rr.Code)
	}
	var list []SessionInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "abc" {
		t.Fatalf("list = %+v", list)
	}

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /sessions/abc status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("GET /sessions/nope status = %d", rr.Code)
	}
}

func TestForgetServerWithoutHookReturnsNotImplemented(t *testing.T) {
	srv := New(NewRegistry(), nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/known-servers/example.com/forget", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rr.Code)
	}
}

type fakeForgetter struct{ forgotten []string }

func (f *fakeForgetter) Forget(host string) error {
	f.forgotten = append(f.forgotten, host)
	return nil
}

func TestForgetServer(t *testing.T) {
	f := &fakeForgetter{}
	srv := New(NewRegistry(), f)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/known-servers/example.com/forget", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if len(f.forgotten) != 1 || f.forgotten[0] != "example.com" {
		t.Fatalf("forgotten = %v", f.forgotten)
	}
}
