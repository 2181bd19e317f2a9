package httpapi

import (
	"errors"
	"net/http"

	"genaiportal.org/internal/audit"
	"genaiportal.org/internal/project"
)

type decideRequest struct {
	Status        string `json:"status"`
	StatusMessage string `json:"statusMessage"`
}

type countResponse struct {
	Count int `json:"count"`
}

func (a *API) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var fields project.Fields
	if err := decodeJSON(w, r, &fields); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.projects.Create(r.Context(), session(r), fields)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventProjectCreate, map[string]any{
		"project_id": p.ID,
		"title":      p.Title,
	})
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := a.projects.Get(r.Context(), session(r), r.PathValue("id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleListOwn(w http.ResponseWriter, r *http.Request) {
	list, err := a.projects.ListOwn(r.Context(), session(r))
	writeList(w, r, list, err)
}

func (a *API) handleCountOwn(w http.ResponseWriter, r *http.Request) {
	n, err := a.projects.CountOwn(r.Context(), session(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (a *API) handleListAll(w http.ResponseWriter, r *http.Request) {
	list, err := a.projects.ListAll(r.Context(), session(r))
	writeList(w, r, list, err)
}

func (a *API) handleListPending(w http.ResponseWriter, r *http.Request) {
	list, err := a.projects.ListPending(r.Context(), session(r))
	writeList(w, r, list, err)
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := project.ParseStatus(q.Get("status"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	keyword := q.Get("q")
	if keyword == "" {
		keyword = q.Get("keyword")
	}
	list, err := a.projects.Search(r.Context(), session(r), project.Query{Keyword: keyword, Status: status})
	writeList(w, r, list, err)
}

func (a *API) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	p, err := a.projects.Decide(r.Context(), session(r), id, project.Status(req.Status), req.StatusMessage)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventProjectDecide, map[string]any{
		"project_id": p.ID,
		"outcome":    string(p.Status),
	})
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	list, err := a.projects.ListDrafts(r.Context(), session(r))
	writeList(w, r, list, err)
}

func (a *API) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	var in project.DraftInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := a.projects.SaveDraft(r.Context(), session(r), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventDraftSave, map[string]any{
		"draft_id": d.ID,
	})
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.projects.DeleteDraft(r.Context(), session(r), id); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventDraftDelete, map[string]any{
		"draft_id": id,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handlePromoteDraft accepts an optional body whose non-empty fields override the
// stored draft before submission.
func (a *API) handlePromoteDraft(w http.ResponseWriter, r *http.Request) {
	var in project.DraftInput
	if r.Body != nil && r.Body != http.NoBody {
		if err := decodeJSON(w, r, &in); err != nil && !errors.Is(err, errEmptyBody) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	draftID := r.PathValue("id")
	p, err := a.projects.PromoteDraft(r.Context(), session(r), draftID, in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventDraftPromote, map[string]any{
		"draft_id":   draftID,
		"project_id": p.ID,
	})
	writeJSON(w, http.StatusCreated, p)
}

func writeList[T any](w http.ResponseWriter, r *http.Request, list []T, err error) {
	if err != nil {
		handleError(w, r, err)
		return
	}
	if list == nil {
		list = []T{}
	}
	writeJSON(w, http.StatusOK, list)
}
