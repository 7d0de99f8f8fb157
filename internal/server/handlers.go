package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"igarchive/pkg/archive"
	"igarchive/pkg/index"
)

type errorResponse struct {
	Error string `json:"error"`
}

// post is an index entry as the viewer sees it: annotations merged in,
// caption sanitised and media paths routed through /media.
type post struct {
	index.Entry
	Categories []string `json:"categories"`
	Notes      string   `json:"notes"`
}

type metadataRequest struct {
	Categories *[]string `json:"categories"`
	Notes      *string   `json:"notes"`
}

type metadataResponse struct {
	Success  bool         `json:"success"`
	Metadata archive.Note `json:"metadata"`
}

type categoryRequest struct {
	Category string `json:"category"`
	Name     string `json:"name"`
}

type mergeRequest struct {
	KeepID   string `json:"keepId"`
	DeleteID string `json:"deleteId"`
}

type deleteResponse struct {
	Success bool     `json:"success"`
	Removed []string `json:"removed"`
}

type autoCleanResponse struct {
	DeletedCount int      `json:"deletedCount"`
	DeletedIDs   []string `json:"deletedIds"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.WithError(err).ErrorWithFields("request failed", map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	})
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// accountDir resolves the ?account= parameter. It writes the 400 response
// itself and reports false when the parameter is missing or malformed.
func (s *Server) accountDir(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account parameter is required")
		return "", "", false
	}
	dir, err := archive.AccountDir(s.baseDir, account)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account parameter")
		return "", "", false
	}
	return account, dir, true
}

// loadIndex returns the index of dir; an account without one has no posts
func loadIndex(dir string) (index.Index, error) {
	idx, err := index.Load(dir)
	if errors.Is(err, index.ErrNoIndex) {
		return index.Index{}, nil
	}
	return idx, err
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

// GET /api/accounts
func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := index.LoadRegistry(s.baseDir)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []string{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// GET /api/posts?account=
func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	account, dir, ok := s.accountDir(w, r)
	if !ok {
		return
	}
	idx, err := loadIndex(dir)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	notes, err := archive.LoadAnnotations(dir)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	posts := make([]post, 0, len(idx))
	for _, e := range idx {
		posts = append(posts, s.present(account, e, notes))
	}
	writeJSON(w, http.StatusOK, posts)
}

// GET /api/posts/{id}?account=
func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	account, dir, ok := s.accountDir(w, r)
	if !ok {
		return
	}
	e, found, err := findEntry(dir, chi.URLParam(r, "id"))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Post not found")
		return
	}
	notes, err := archive.LoadAnnotations(dir)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.present(account, e, notes))
}

func findEntry(dir, id string) (index.Entry, bool, error) {
	idx, err := loadIndex(dir)
	if err != nil {
		return index.Entry{}, false, err
	}
	for _, e := range idx {
		if e.ID == id {
			return e, true, nil
		}
	}
	return index.Entry{}, false, nil
}

func (s *Server) present(account string, e index.Entry, notes *archive.Annotations) post {
	e.Caption = s.sanitizer.Sanitize(e.Caption)
	e.DisplayURL = mediaPath(account, e.DisplayURL)
	e.VideoURL = mediaPath(account, e.VideoURL)

	items := make([]index.CarouselItem, len(e.CarouselItems))
	for i, item := range e.CarouselItems {
		item.DisplayURL = mediaPath(account, item.DisplayURL)
		item.VideoURL = mediaPath(account, item.VideoURL)
		items[i] = item
	}
	e.CarouselItems = items

	note := notes.Get(e.ID)
	return post{Entry: e, Categories: note.Categories, Notes: note.Notes}
}

func mediaPath(account, name string) string {
	if name == "" {
		return ""
	}
	return "/media/" + account + "/" + name
}

// PUT /api/posts/{id}/metadata?account=
func (s *Server) updateMetadata(w http.ResponseWriter, r *http.Request) {
	_, dir, ok := s.accountDir(w, r)
	if !ok {
		return
	}
	var req metadataRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	notes, err := archive.LoadAnnotations(dir)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	var categories []string
	if req.Categories != nil {
		categories = *req.Categories
		if categories == nil {
			categories = []string{}
		}
	}
	note := notes.Update(chi.URLParam(r, "id"), categories, req.Notes)
	if err := notes.Save(dir); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metadataResponse{Success: true, Metadata: note})
}

// GET /api/categories?account=
func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	_, dir, ok := s.accountDir(w, r)
	if !ok {
		return
	}
	notes, err := archive.LoadAnnotations(dir)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notes.Categories)
}

// POST /api/categories?account=
func (s *Server) addCategory(w http.ResponseWriter, r *http.Request) {
	_, dir, ok := s.accountDir(w, r)
	if !ok {
		return
	}
	var req categoryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = strings.TrimSpace(req.Category)
	}
	if name == "" {
		writeError(w, http.StatusBadRequest, "Category name is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	notes, err := archive.LoadAnnotations(dir)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if notes.AddCategory(name) {
		if err := notes.Save(dir); err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, notes.Categories)
}

// GET /api/duplicates?account=
func (s *Server) listDuplicates(w http.ResponseWriter, r *http.Request) {
	_, dir, ok := s.accountDir(w, r)
	if !ok {
		return
	}
	idx, err := loadIndex(dir)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, index.FindDuplicates(idx))
}

func (s *Server) refuseDelete(w http.ResponseWriter) bool {
	if s.cfg.AllowDelete {
		return false
	}
	writeError(w, http.StatusForbidden, "deleting is disabled, set server.allow_delete to enable it")
	return true
}

// removeItem deletes the files of id and forgets its annotations. The
// caller holds s.mu and rebuilds the index afterwards.
func (s *Server) removeItem(dir, id string, notes *archive.Annotations) ([]string, error) {
	removed, err := archive.RemoveItem(dir, id)
	if err != nil {
		return nil, err
	}
	notes.Forget(id)
	s.logger.InfoWithFields("item removed from archive", map[string]interface{}{
		"account_dir": dir,
		"id":          id,
		"files":       len(removed),
	})
	return removed, nil
}

// DELETE /api/posts/{id}?account=
func (s *Server) deletePost(w http.ResponseWriter, r *http.Request) {
	if s.refuseDelete(w) {
		return
	}
	_, dir, ok := s.accountDir(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	notes, err := archive.LoadAnnotations(dir)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	removed, err := s.removeItem(dir, chi.URLParam(r, "id"), notes)
	if errors.Is(err, archive.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, "Post not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.persist(dir, notes); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Success: true, Removed: removed})
}

// persist saves annotations and rebuilds the index and registry
func (s *Server) persist(dir string, notes *archive.Annotations) error {
	if err := notes.Save(dir); err != nil {
		return err
	}
	if _, err := index.Rebuild(dir); err != nil {
		return err
	}
	_, err := index.RebuildRegistry(s.baseDir)
	return err
}

// POST /api/duplicates/merge?account=
func (s *Server) mergeDuplicates(w http.ResponseWriter, r *http.Request) {
	if s.refuseDelete(w) {
		return
	}
	_, dir, ok := s.accountDir(w, r)
	if !ok {
		return
	}
	var req mergeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.KeepID == "" || req.DeleteID == "" {
		writeError(w, http.StatusBadRequest, "keepId and deleteId are required")
		return
	}
	if req.KeepID == req.DeleteID {
		writeError(w, http.StatusBadRequest, "keepId and deleteId must differ")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	notes, err := archive.LoadAnnotations(dir)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	merged := notes.Merge(req.KeepID, req.DeleteID)
	if _, err := s.removeItem(dir, req.DeleteID, notes); err != nil && !errors.Is(err, archive.ErrItemNotFound) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.persist(dir, notes); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metadataResponse{Success: true, Metadata: merged})
}

// POST /api/duplicates/auto-clean?account= drops the second item of every
// exact pair
func (s *Server) autoClean(w http.ResponseWriter, r *http.Request) {
	if s.refuseDelete(w) {
		return
	}
	_, dir, ok := s.accountDir(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := loadIndex(dir)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	notes, err := archive.LoadAnnotations(dir)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	resp := autoCleanResponse{DeletedIDs: []string{}}
	deleted := map[string]bool{}
	for _, m := range index.FindDuplicates(idx) {
		id := m.PostIDs[1]
		if m.MatchType != index.MatchExact || deleted[id] || deleted[m.PostIDs[0]] {
			continue
		}
		if _, err := s.removeItem(dir, id, notes); err != nil && !errors.Is(err, archive.ErrItemNotFound) {
			s.internalError(w, r, err)
			return
		}
		deleted[id] = true
		resp.DeletedIDs = append(resp.DeletedIDs, id)
	}
	resp.DeletedCount = len(resp.DeletedIDs)

	if resp.DeletedCount > 0 {
		if err := s.persist(dir, notes); err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// mediaExtensions are the files the downloader writes besides records.
// Records and the account's json files stay behind the /api secret.
var mediaExtensions = map[string]bool{".jpg": true, ".mp4": true}

// GET /media/{account}/{name}
func (s *Server) serveMedia(w http.ResponseWriter, r *http.Request) {
	dir, err := archive.AccountDir(s.baseDir, chi.URLParam(r, "account"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	name := chi.URLParam(r, "*")
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") ||
		!mediaExtensions[strings.ToLower(filepath.Ext(name))] {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, filepath.Join(dir, name))
}
