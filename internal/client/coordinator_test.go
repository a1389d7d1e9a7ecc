package client

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cofund/internal/proto"
	"cofund/internal/transport"
)

// fakeCoord is an in-process session coordinator speaking the real wire
// shapes over pipe transports. It is deliberately simple: one session,
// version bumps on accepted submits, broadcast routing between attached
// clients.
type fakeCoord struct {
	t *testing.T

	rejectAuth    atomic.Bool
	pushChallenge atomic.Bool
	holdAuth      chan struct{}
	listAfter     atomic.Int64

	mu           sync.Mutex
	conns        []*transport.PipeConn
	sessionID    string
	created      bool
	participants []string
	nonce        string
	version      uint64
	state        json.RawMessage
	list         []proto.SessionInfo
}

func newFakeCoord(t *testing.T) *fakeCoord {
	return &fakeCoord{t: t, sessionID: "app-1"}
}

// attach returns the client end of a fresh pipe served by the coordinator.
func (f *fakeCoord) attach() *transport.PipeConn {
	clientEnd, serverEnd := transport.Pipe()
	f.mu.Lock()
	f.conns = append(f.conns, serverEnd)
	f.mu.Unlock()
	go f.serve(serverEnd)
	return clientEnd
}

// setList scripts the get_app_sessions answer until a real session exists;
// skip makes that many list calls come back empty first.
func (f *fakeCoord) setList(sessions []proto.SessionInfo, skip int) {
	f.mu.Lock()
	f.list = sessions
	f.mu.Unlock()
	f.listAfter.Store(int64(skip))
}

func (f *fakeCoord) serve(conn *transport.PipeConn) {
	for env := range conn.Recv() {
		f.handle(conn, env)
	}
}

func (f *fakeCoord) handle(conn *transport.PipeConn, env *proto.Envelope) {
	switch env.Method {
	case proto.MethodAuthRequest:
		if f.holdAuth != nil {
			<-f.holdAuth
		}
		if f.pushChallenge.Load() {
			f.pushAll(proto.MethodAuthChallenge, "", proto.AuthChallenge{Challenge: "challenge-1"})
			return
		}
		f.reply(conn, env.ID, proto.MethodAuthChallenge, proto.AuthChallenge{Challenge: "challenge-1"})
	case proto.MethodAuthVerify:
		f.reply(conn, env.ID, proto.MethodAuthVerify, proto.AuthVerified{Success: !f.rejectAuth.Load()})
	case proto.MethodCreateSession:
		var p proto.CreateSessionParams
		f.unmarshal(env.Params, &p)
		f.mu.Lock()
		f.created = true
		f.participants = append([]string(nil), p.Definition.Participants...)
		f.nonce = p.Definition.Nonce
		f.version = p.Definition.Version
		id := f.sessionID
		version := f.version
		f.mu.Unlock()
		f.reply(conn, env.ID, proto.MethodCreateSession, proto.SessionCreated{
			AppSessionID: id, Version: version, Status: "open",
		})
	case proto.MethodGetSessions:
		f.reply(conn, env.ID, proto.MethodGetSessions, proto.SessionsListed{Sessions: f.currentList()})
	case proto.MethodSubmitState:
		var p proto.SubmitStateParams
		f.unmarshal(env.Params, &p)
		f.mu.Lock()
		accepted := p.AppSessionID == f.sessionID && p.Version == f.version+1
		if accepted {
			f.version = p.Version
			f.state = p.State
		}
		update := proto.StateUpdated{AppSessionID: f.sessionID, Version: f.version, State: f.state}
		f.mu.Unlock()
		f.reply(conn, env.ID, proto.MethodSubmitState, update)
		if accepted {
			f.pushAll(proto.MethodSessionUpdate, "", update)
		}
	case proto.MethodMessage:
		var p proto.SendMessageParams
		f.unmarshal(env.Params, &p)
		f.pushAll(proto.MethodMessage, env.Sender, proto.AppMessage{
			AppSessionID: p.AppSessionID,
			MessageID:    p.MessageID,
			Sender:       env.Sender,
			Payload:      p.Payload,
		})
	}
}

func (f *fakeCoord) currentList() []proto.SessionInfo {
	if f.listAfter.Add(-1) >= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.created {
		return []proto.SessionInfo{{
			AppSessionID: f.sessionID,
			Protocol:     proto.ProtocolTag,
			Participants: f.participants,
			Status:       "open",
			Version:      f.version,
			Nonce:        f.nonce,
		}}
	}
	return append([]proto.SessionInfo(nil), f.list...)
}

func (f *fakeCoord) reply(conn *transport.PipeConn, id uint64, method string, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		f.t.Errorf("marshal %s reply: %v", method, err)
		return
	}
	_ = conn.Send(context.Background(), &proto.Envelope{ID: id, Method: method, Params: data})
}

// pushAll delivers a push (id 0) to every attached client, the sender
// included; self-echo suppression is the client's job.
func (f *fakeCoord) pushAll(method, sender string, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		f.t.Errorf("marshal %s push: %v", method, err)
		return
	}
	f.mu.Lock()
	conns := append([]*transport.PipeConn(nil), f.conns...)
	f.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Send(context.Background(), &proto.Envelope{ID: 0, Method: method, Sender: sender, Params: data})
	}
}

func (f *fakeCoord) pushError(text string) {
	f.pushAll(proto.MethodError, "", proto.ProtocolError{Err: text})
}

func (f *fakeCoord) unmarshal(data json.RawMessage, into any) {
	if err := json.Unmarshal(data, into); err != nil {
		f.t.Errorf("unmarshal params: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
