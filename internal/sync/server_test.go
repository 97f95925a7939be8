package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"fabula/internal/store"
	"fabula/internal/types"

	"github.com/stretchr/testify/require"
)

const testToken = "a1b2c3d4-0000-0000-0000-000000000000"

func newTestServer(t *testing.T, events EventFunc) (*Server, store.Persistence) {
	t.Helper()
	st, err := store.NewLocalStore(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := NewServer(st, testToken, events)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv, st
}

func call(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	url := fmt.Sprintf("http://%s/sync", srv.Addr())
	httpResp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer httpResp.Body.Close()

	var resp Response
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	return resp
}

func seedStory(t *testing.T, st store.Persistence, id, title string) {
	t.Helper()
	require.NoError(t, st.SaveStory(&types.Story{ID: id, Title: title, Genre: "mystery", UpdatedAt: time.Now()}))
	require.NoError(t, st.SaveEntry(&types.StoryEntry{ID: id + "-e1", StoryID: id, Role: types.RolePlayer, Text: "I open the door", Timestamp: time.Now()}))
	require.NoError(t, st.SaveEntry(&types.StoryEntry{ID: id + "-e2", StoryID: id, Role: types.RoleNarrator, Text: "It creaks.", Timestamp: time.Now()}))
	require.NoError(t, st.SaveCharacter(&types.Character{ID: id + "-c1", StoryID: id, Name: "Mira", Status: types.CharacterActive}))
	require.NoError(t, st.SaveLorebookEntry(&types.LorebookEntry{ID: id + "-lb1", StoryID: id, Name: "The Pact", Content: "An old bargain.", InjectionMode: types.InjectionKeyword}))
}

func TestConnectCode(t *testing.T) {
	code := ConnectCode(testToken)
	require.Len(t, code, 6)
	// Deterministic for the same token.
	require.Equal(t, code, ConnectCode(testToken))
	// 0xa1b2c3d4 = 2712847316; mod 1e6 = 847316.
	require.Equal(t, "847316", code)
	require.Equal(t, "000000", ConnectCode("not-hex"))
}

func TestListStoriesWithConnectCode(t *testing.T) {
	var events []Event
	srv, st := newTestServer(t, func(e Event) { events = append(events, e) })
	seedStory(t, st, "s1", "The Harbor Mystery")

	// The 6-digit code authenticates just like the full token.
	resp := call(t, srv, Request{Token: ConnectCode(testToken), Action: Action{Type: ActionListStories}})
	require.Equal(t, ResponseStoriesList, resp.Type)
	require.Len(t, resp.Stories, 1)

	p := resp.Stories[0]
	require.Equal(t, "s1", p.ID)
	require.Equal(t, "The Harbor Mystery", p.Title)
	require.Equal(t, 2, p.EntryCount)

	require.Len(t, events, 1)
	require.Equal(t, "connected", events[0].Type)
}

func TestInvalidTokenRejectedAndRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for i := 0; i < maxAuthFailures; i++ {
		resp := call(t, srv, Request{Token: "wrong", Action: Action{Type: ActionListStories}})
		require.Equal(t, ResponseError, resp.Type)
		require.Equal(t, "Invalid authentication token", resp.Message)
	}

	// The next attempt hits the lockout instead of the token check.
	resp := call(t, srv, Request{Token: "wrong", Action: Action{Type: ActionListStories}})
	require.Equal(t, ResponseError, resp.Type)
	require.NotEqual(t, "Invalid authentication token", resp.Message)
	require.Contains(t, resp.Message, "Too many failed attempts")
}

func TestPullPushRoundTrip(t *testing.T) {
	srcSrv, srcStore := newTestServer(t, nil)
	seedStory(t, srcStore, "s1", "The Harbor Mystery")

	pull := call(t, srcSrv, Request{Token: testToken, Action: Action{Type: ActionPullStory, StoryID: "s1"}})
	require.Equal(t, ResponseStoryData, pull.Type)
	require.NotEmpty(t, pull.Data)

	dstSrv, dstStore := newTestServer(t, nil)
	push := call(t, dstSrv, Request{Token: testToken, Action: Action{Type: ActionPushStory, StoryData: pull.Data}})
	require.Equal(t, ResponseSuccess, push.Type)

	story, err := dstStore.GetStory("s1")
	require.NoError(t, err)
	require.Equal(t, "The Harbor Mystery", story.Title)

	entries, err := dstStore.GetEntries("s1", "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "I open the door", entries[0].Text)

	lore, err := dstStore.GetLorebookEntries("s1", "")
	require.NoError(t, err)
	require.Len(t, lore, 1)
	require.Equal(t, "The Pact", lore[0].Name)

	// Pushing again converges instead of duplicating.
	push = call(t, dstSrv, Request{Token: testToken, Action: Action{Type: ActionPushStory, StoryData: pull.Data}})
	require.Equal(t, ResponseSuccess, push.Type)
	entries, err = dstStore.GetEntries("s1", "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestPullUnknownStory(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := call(t, srv, Request{Token: testToken, Action: Action{Type: ActionPullStory, StoryID: "nope"}})
	require.Equal(t, ResponseError, resp.Type)
}

func TestMalformedRequest(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	url := fmt.Sprintf("http://%s/sync", srv.Addr())
	httpResp, err := http.Post(url, "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer httpResp.Body.Close()

	var resp Response
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	require.Equal(t, ResponseError, resp.Type)
}

func TestDiscoveryResponder(t *testing.T) {
	responder := NewResponder(DiscoveryResponse{
		IP: "192.168.1.10", Token: testToken, Version: "1.0.0", DeviceName: "test-device",
	})
	require.NoError(t, responder.Start("127.0.0.1:0"))
	defer responder.Stop()

	conn, err := net.Dial("udp", responder.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Noise is ignored; a probe gets an answer.
	_, err = conn.Write([]byte("junk"))
	require.NoError(t, err)
	_, err = conn.Write(discoveryRequest)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	require.NoError(t, err, "no discovery reply")

	var resp DiscoveryResponse
	require.NoError(t, json.Unmarshal(buf[:n], &resp))
	require.Equal(t, AppIdentifier, resp.App)
	require.Equal(t, "test-device", resp.DeviceName)
	require.Equal(t, SyncPort, resp.Port)

	// A hot-reloaded device name shows up in the next reply.
	responder.SetDeviceName("renamed-device")
	_, err = conn.Write(discoveryRequest)
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err = conn.Read(buf)
	require.NoError(t, err, "no discovery reply after rename")
	require.NoError(t, json.Unmarshal(buf[:n], &resp))
	require.Equal(t, "renamed-device", resp.DeviceName)
}
