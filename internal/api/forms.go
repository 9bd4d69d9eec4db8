package api

import (
	"net/http"
	"sync"

	"github.com/erazemk/grocery/internal/form"
	"github.com/erazemk/grocery/internal/model"
)

// formSessions holds the server side of open forms. Each account keeps one
// add form, so its notice outlives the request and a second submit while
// one is saving is refused. An edit form exists only while its save runs.
type formSessions struct {
	store  form.Store
	images form.Images

	mu    sync.Mutex
	adds  map[string]*form.Add
	edits map[string]*form.Edit
}

func newFormSessions(store form.Store, images form.Images) *formSessions {
	return &formSessions{
		store:  store,
		images: images,
		adds:   make(map[string]*form.Add),
		edits:  make(map[string]*form.Edit),
	}
}

// add returns the account's add form, opening it on first use.
func (s *formSessions) add(user string) *form.Add {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.adds[user]
	if !ok {
		a = form.NewAdd(s.store, s.images)
		s.adds[user] = a
	}
	return a
}

// openEdit opens an edit form for item, or returns form.ErrBusy while
// another save of the same item is running.
func (s *formSessions) openEdit(item model.Item) (*form.Edit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edits[item.ID]; ok {
		return nil, form.ErrBusy
	}
	e := form.NewEdit(item, s.store, s.images)
	s.edits[item.ID] = e
	return e, nil
}

func (s *formSessions) closeEdit(e *form.Edit) {
	id := e.Original().ID
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edits[id] == e {
		delete(s.edits, id)
	}
}

type addFormResponse struct {
	Loading bool          `json:"loading"`
	Message *form.Message `json:"message"`
}

// AddForm handles GET /api/forms/add: whether the caller's add form is
// saving, and the notice it is showing, if any.
func (h *ItemsHandler) AddForm(w http.ResponseWriter, r *http.Request) {
	a := h.forms.add(username(r))
	resp := addFormResponse{Loading: a.Loading()}
	if m, ok := a.Message(); ok {
		resp.Message = &m
	}
	jsonResponse(w, http.StatusOK, resp)
}

func username(r *http.Request) string {
	if claims := GetClaims(r.Context()); claims != nil {
		return claims.Username
	}
	return ""
}
