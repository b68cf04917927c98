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

// Package storagetest provides hand-written gomock mocks for the
// storage package's collaborator interfaces, in the style of
// trillian's generated storage mocks (trillian runs mockgen over its
// storage interfaces; this module's collaborator surface is small
// enough to hand-write directly against gomock's Controller/Call API).
package storagetest

import (
	"context"
	"reflect"

	"github.com/golang/mock/gomock"

	"github.com/opensync/netsync/merkle"
)

// MockObjectStore is a gomock-based mock of storage.ObjectStore.
type MockObjectStore struct {
	ctrl     *gomock.Controller
	recorder *MockObjectStoreRecorder
}

type MockObjectStoreRecorder struct{ mock *MockObjectStore }

func NewMockObjectStore(ctrl *gomock.Controller) *MockObjectStore {
	m := &MockObjectStore{ctrl: ctrl}
	m.recorder = &MockObjectStoreRecorder{m}
	return m
}

func (m *MockObjectStore) EXPECT() *MockObjectStoreRecorder { return m.recorder }

func (m *MockObjectStore) Exists(ctx context.Context, typ merkle.ObjectType, id merkle.ID) (bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Exists", ctx, typ, id)
	ok, _ := ret[0].(bool)
	err, _ := ret[1].(error)
	return ok, err
}

func (mr *MockObjectStoreRecorder) Exists(ctx, typ, id interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Exists", reflect.TypeOf((*MockObjectStore)(nil).Exists), ctx, typ, id)
}

func (m *MockObjectStore) Get(ctx context.Context, typ merkle.ObjectType, id merkle.ID) ([]byte, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Get", ctx, typ, id)
	b, _ := ret[0].([]byte)
	err, _ := ret[1].(error)
	return b, err
}

func (mr *MockObjectStoreRecorder) Get(ctx, typ, id interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Get", reflect.TypeOf((*MockObjectStore)(nil).Get), ctx, typ, id)
}

func (m *MockObjectStore) Put(ctx context.Context, typ merkle.ObjectType, id merkle.ID, data []byte) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Put", ctx, typ, id, data)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockObjectStoreRecorder) Put(ctx, typ, id, data interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Put", reflect.TypeOf((*MockObjectStore)(nil).Put), ctx, typ, id, data)
}

func (m *MockObjectStore) GetFileDelta(ctx context.Context, srcID, dstID merkle.ID) ([]byte, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetFileDelta", ctx, srcID, dstID)
	b, _ := ret[0].([]byte)
	err, _ := ret[1].(error)
	return b, err
}

func (mr *MockObjectStoreRecorder) GetFileDelta(ctx, srcID, dstID interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetFileDelta", reflect.TypeOf((*MockObjectStore)(nil).GetFileDelta), ctx, srcID, dstID)
}

func (m *MockObjectStore) AllIDs(ctx context.Context, typ merkle.ObjectType) ([]merkle.ID, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "AllIDs", ctx, typ)
	ids, _ := ret[0].([]merkle.ID)
	err, _ := ret[1].(error)
	return ids, err
}

func (mr *MockObjectStoreRecorder) AllIDs(ctx, typ interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "AllIDs", reflect.TypeOf((*MockObjectStore)(nil).AllIDs), ctx, typ)
}

// MockPolicyHooks is a gomock-based mock of storage.PolicyHooks.
type MockPolicyHooks struct {
	ctrl     *gomock.Controller
	recorder *MockPolicyHooksRecorder
}

type MockPolicyHooksRecorder struct{ mock *MockPolicyHooks }

func NewMockPolicyHooks(ctrl *gomock.Controller) *MockPolicyHooks {
	m := &MockPolicyHooks{ctrl: ctrl}
	m.recorder = &MockPolicyHooksRecorder{m}
	return m
}

func (m *MockPolicyHooks) EXPECT() *MockPolicyHooksRecorder { return m.recorder }

func (m *MockPolicyHooks) ReadAllowed(ctx context.Context, branch, clientKeyID string) (bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ReadAllowed", ctx, branch, clientKeyID)
	ok, _ := ret[0].(bool)
	err, _ := ret[1].(error)
	return ok, err
}

func (mr *MockPolicyHooksRecorder) ReadAllowed(ctx, branch, clientKeyID interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ReadAllowed", reflect.TypeOf((*MockPolicyHooks)(nil).ReadAllowed), ctx, branch, clientKeyID)
}

func (m *MockPolicyHooks) WriteAllowed(ctx context.Context, branch, clientKeyID string) (bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "WriteAllowed", ctx, branch, clientKeyID)
	ok, _ := ret[0].(bool)
	err, _ := ret[1].(error)
	return ok, err
}

func (mr *MockPolicyHooksRecorder) WriteAllowed(ctx, branch, clientKeyID interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "WriteAllowed", reflect.TypeOf((*MockPolicyHooks)(nil).WriteAllowed), ctx, branch, clientKeyID)
}

func (m *MockPolicyHooks) RememberServerKey(ctx context.Context, peer string, fingerprint []byte) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "RememberServerKey", ctx, peer, fingerprint)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockPolicyHooksRecorder) RememberServerKey(ctx, peer, fingerprint interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "RememberServerKey", reflect.TypeOf((*MockPolicyHooks)(nil).RememberServerKey), ctx, peer, fingerprint)
}
