package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"movesia/internal/event"
	"movesia/internal/session"
)

type fakeDispatcher struct {
	got []event.Envelope
	err error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, env event.Envelope) error {
	f.got = append(f.got, env)
	return f.err
}

func TestEventsHandler(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		dispatchErr  error
		wantStatus   int
		wantDispatch int
		wantAck      bool
	}{
		{
			name:         "valid acknowledged event",
			body:         `{"v":1,"source":"unity","type":"assets_imported","ts":100,"id":"e1","session":"s1","body":{"items":[]}}`,
			wantStatus:   http.StatusAccepted,
			wantDispatch: 1,
			wantAck:      true,
		},
		{
			name:         "heartbeat is never acked",
			body:         `{"v":1,"source":"unity","type":"hb","ts":100,"id":"e2","session":"s1","body":{}}`,
			wantStatus:   http.StatusAccepted,
			wantDispatch: 1,
			wantAck:      false,
		},
		{
			name:       "malformed json dropped",
			body:       `{not json`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing type dropped",
			body:       `{"v":1,"source":"unity","ts":100,"id":"e3"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:         "non-unity source ignored",
			body:         `{"v":1,"source":"electron","type":"hello","ts":100,"id":"e4","body":{}}`,
			wantStatus:   http.StatusAccepted,
			wantDispatch: 0,
		},
		{
			name:         "unresolved session buffers with 202",
			body:         `{"v":1,"source":"unity","type":"hello","ts":100,"id":"e5","session":"s1","body":{}}`,
			dispatchErr:  fmt.Errorf("%w: no match", session.ErrUnresolved),
			wantStatus:   http.StatusAccepted,
			wantDispatch: 1,
		},
		{
			name:         "dispatch failure surfaces",
			body:         `{"v":1,"source":"unity","type":"assets_imported","ts":100,"id":"e6","session":"s1","body":{"items":[]}}`,
			dispatchErr:  fmt.Errorf("catalog on fire"),
			wantStatus:   http.StatusInternalServerError,
			wantDispatch: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{err: tt.dispatchErr}
			h := NewEventsHandler(d)

			req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if len(d.got) != tt.wantDispatch {
				t.Errorf("dispatched %d events, want %d", len(d.got), tt.wantDispatch)
			}
			if tt.wantStatus == http.StatusAccepted && tt.wantDispatch > 0 && tt.dispatchErr == nil {
				wantAck := fmt.Sprintf(`"ack":%v`, tt.wantAck)
				if !strings.Contains(rec.Body.String(), wantAck) {
					t.Errorf("response %s missing %s", rec.Body.String(), wantAck)
				}
			}
		})
	}
}
