package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"fabula/internal/logging"
	"fabula/internal/store"
)

const (
	// Pushed stories may embed images; allow large bodies.
	maxBodyBytes = 100 << 20

	maxAuthFailures   = 5
	authBlockDuration = time.Minute
)

// ConnectCode derives the 6-digit manual-entry code from a UUID token. The
// first 8 hex digits of the token, mod one million, zero-padded.
func ConnectCode(token string) string {
	clean := strings.ReplaceAll(token, "-", "")
	if len(clean) > 8 {
		clean = clean[:8]
	}
	val, err := strconv.ParseUint(clean, 16, 64)
	if err != nil {
		val = 0
	}
	return fmt.Sprintf("%06d", val%1_000_000)
}

// validToken accepts the full token or its derived connect code.
func validToken(requestToken, serverToken string) bool {
	return requestToken == serverToken || requestToken == ConnectCode(serverToken)
}

type authFailure struct {
	count int
	last  time.Time
}

// Server hosts a story library for other devices on the local network.
type Server struct {
	token  string
	store  store.Persistence
	events EventFunc

	httpSrv *http.Server
	ln      net.Listener

	mu       gosync.Mutex
	failures map[string]*authFailure
}

// NewServer creates a sync server. token authenticates clients; events may
// be nil.
func NewServer(st store.Persistence, token string, events EventFunc) *Server {
	return &Server{
		token:    token,
		store:    st,
		events:   events,
		failures: make(map[string]*authFailure),
	}
}

// Start binds the listener and begins serving. addr is normally
// ":55555"; tests pass ":0". Returns once the listener is bound; serving
// continues until Stop.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = fmt.Sprintf(":%d", SyncPort)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("sync server bind %s: %w", addr, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync", s.handleSync)
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Get(logging.CategorySync).Error("sync server: %v", err)
		}
	}()

	logging.Sync("sync server listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop shuts the server down gracefully, honoring the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) emit(eventType, message string) {
	if s.events != nil {
		s.events(Event{Type: eventType, Message: message})
	}
}

// blocked reports whether an IP is currently locked out, with the seconds
// remaining.
func (s *Server) blocked(ip string) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.failures[ip]
	if f == nil || f.count < maxAuthFailures {
		return false, 0
	}
	elapsed := time.Since(f.last)
	if elapsed >= authBlockDuration {
		return false, 0
	}
	return true, int((authBlockDuration - elapsed).Seconds())
}

func (s *Server) recordFailure(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.failures[ip]
	if f == nil || time.Since(f.last) >= authBlockDuration {
		f = &authFailure{}
		s.failures[ip] = f
	}
	f.count++
	f.last = time.Now()
}

func (s *Server) clearFailures(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, ip)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	if isBlocked, remaining := s.blocked(ip); isBlocked {
		writeResponse(w, Response{
			Type:    ResponseError,
			Message: fmt.Sprintf("Too many failed attempts. Try again in %d seconds.", remaining),
		})
		return
	}

	var req Request
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeResponse(w, Response{Type: ResponseError, Message: "Malformed request"})
		return
	}

	if !validToken(req.Token, s.token) {
		s.recordFailure(ip)
		logging.Sync("auth failure from %s", ip)
		writeResponse(w, Response{Type: ResponseError, Message: "Invalid authentication token"})
		return
	}
	s.clearFailures(ip)

	switch req.Action.Type {
	case ActionListStories:
		s.handleList(w)
	case ActionPullStory:
		s.handlePull(w, req.Action.StoryID)
	case ActionPushStory:
		s.handlePush(w, req.Action.StoryData)
	default:
		writeResponse(w, Response{Type: ResponseError, Message: fmt.Sprintf("Unknown action: %s", req.Action.Type)})
	}
}

func (s *Server) handleList(w http.ResponseWriter) {
	stories, err := s.store.ListStories()
	if err != nil {
		writeResponse(w, Response{Type: ResponseError, Message: "Failed to list stories"})
		return
	}

	previews := make([]StoryPreview, 0, len(stories))
	for _, story := range stories {
		entries, err := s.store.GetEntries(story.ID, "")
		if err != nil {
			continue
		}
		previews = append(previews, StoryPreview{
			ID:         story.ID,
			Title:      story.Title,
			Genre:      story.Genre,
			UpdatedAt:  story.UpdatedAt.UnixMilli(),
			EntryCount: len(entries),
		})
	}

	s.emit("connected", fmt.Sprintf("Device connected, %d stories available", len(previews)))
	writeResponse(w, Response{Type: ResponseStoriesList, Stories: previews})
}

func (s *Server) handlePull(w http.ResponseWriter, storyID string) {
	export, err := s.exportStory(storyID)
	if err != nil {
		writeResponse(w, Response{Type: ResponseError, Message: fmt.Sprintf("Story not found: %s", storyID)})
		return
	}
	data, err := json.Marshal(export)
	if err != nil {
		writeResponse(w, Response{Type: ResponseError, Message: "Failed to export story"})
		return
	}

	s.emit("pulled", fmt.Sprintf("Sent %q to other device", export.Story.Title))
	writeResponse(w, Response{Type: ResponseStoryData, Data: string(data)})
}

func (s *Server) handlePush(w http.ResponseWriter, storyData string) {
	s.emit("pushed", "Receiving story from other device...")

	var export StoryExport
	if err := json.Unmarshal([]byte(storyData), &export); err != nil {
		writeResponse(w, Response{Type: ResponseError, Message: "Malformed story data"})
		return
	}
	if err := s.importStory(&export); err != nil {
		logging.Get(logging.CategorySync).Error("import failed: %v", err)
		writeResponse(w, Response{Type: ResponseError, Message: "Failed to store story"})
		return
	}

	writeResponse(w, Response{Type: ResponseSuccess, Message: "Story received successfully"})
}

// exportStory assembles the full transferable form of one story.
func (s *Server) exportStory(storyID string) (*StoryExport, error) {
	story, err := s.store.GetStory(storyID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.GetEntries(storyID, "")
	if err != nil {
		return nil, err
	}
	characters, err := s.store.GetCharacters(storyID, "")
	if err != nil {
		return nil, err
	}
	locations, err := s.store.GetLocations(storyID, "")
	if err != nil {
		return nil, err
	}
	items, err := s.store.GetItems(storyID, "")
	if err != nil {
		return nil, err
	}
	beats, err := s.store.GetBeats(storyID, "")
	if err != nil {
		return nil, err
	}
	lorebook, err := s.store.GetLorebookEntries(storyID, "")
	if err != nil {
		return nil, err
	}
	chapters, err := s.store.GetChapters(storyID, "")
	if err != nil {
		return nil, err
	}
	return &StoryExport{
		Story:      *story,
		Entries:    entries,
		Characters: characters,
		Locations:  locations,
		Items:      items,
		Beats:      beats,
		Lorebook:   lorebook,
		Chapters:   chapters,
	}, nil
}

// importStory writes a pushed story into the local store. Saves are upserts,
// so pushing the same story twice converges instead of duplicating.
func (s *Server) importStory(export *StoryExport) error {
	if export.Story.ID == "" {
		return errors.New("story has no ID")
	}
	if err := s.store.SaveStory(&export.Story); err != nil {
		return err
	}
	for i := range export.Entries {
		if err := s.store.SaveEntry(&export.Entries[i]); err != nil {
			return err
		}
	}
	for i := range export.Characters {
		if err := s.store.SaveCharacter(&export.Characters[i]); err != nil {
			return err
		}
	}
	for i := range export.Locations {
		if err := s.store.SaveLocation(&export.Locations[i]); err != nil {
			return err
		}
	}
	for i := range export.Items {
		if err := s.store.SaveItem(&export.Items[i]); err != nil {
			return err
		}
	}
	for i := range export.Beats {
		if err := s.store.SaveBeat(&export.Beats[i]); err != nil {
			return err
		}
	}
	for i := range export.Lorebook {
		if err := s.store.SaveLorebookEntry(&export.Lorebook[i]); err != nil {
			return err
		}
	}
	for i := range export.Chapters {
		if err := s.store.SaveChapter(&export.Chapters[i]); err != nil {
			return err
		}
	}
	logging.Sync("imported story %s (%d entries)", export.Story.ID, len(export.Entries))
	return nil
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
