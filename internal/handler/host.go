package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/hostvault/internal/model"
	"github.com/dukerupert/hostvault/internal/remote"
	"github.com/dukerupert/hostvault/internal/store"
	"github.com/dukerupert/hostvault/internal/websocket"
)

type HostHandler struct {
	hosts     *store.HostStore
	jobs      *store.JobStore
	scheduler Scheduler
	remote    Remote
	hub       *websocket.Hub
	logger    *slog.Logger
}

func NewHostHandler(hs *store.HostStore, js *store.JobStore, sched Scheduler, rc Remote, hub *websocket.Hub, logger *slog.Logger) *HostHandler {
	return &HostHandler{hosts: hs, jobs: js, scheduler: sched, remote: rc, hub: hub, logger: logger}
}

// hostResponse hides the password but says whether one is stored.
type hostResponse struct {
	*model.Host
	HasPassword bool `json:"has_password"`
}

func toHostResponse(h *model.Host) hostResponse {
	return hostResponse{Host: h, HasPassword: h.HasPassword()}
}

type hostRequest struct {
	Name       *string `json:"name"`
	Address    *string `json:"address"`
	Port       *int    `json:"port"`
	Username   *string `json:"username"`
	AuthMethod *string `json:"auth_method"`
	Password   *string `json:"password"`
	KeyPath    *string `json:"key_path"`
	UseSudo    *bool   `json:"use_sudo"`
}

// apply copies the fields that were sent onto h.
func (req *hostRequest) apply(h *model.Host) {
	if req.Name != nil {
		h.Name = *req.Name
	}
	if req.Address != nil {
		h.Address = *req.Address
	}
	if req.Port != nil {
		h.Port = *req.Port
	}
	if req.Username != nil {
		h.Username = *req.Username
	}
	if req.AuthMethod != nil {
		h.AuthMethod = model.AuthMethod(*req.AuthMethod)
	}
	if req.Password != nil {
		h.Password = *req.Password
	}
	if req.KeyPath != nil {
		h.KeyPath = *req.KeyPath
	}
	if req.UseSudo != nil {
		h.UseSudo = *req.UseSudo
	}
}

func (h *HostHandler) List(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.hosts.List()
	if err != nil {
		h.logger.Error("failed to list hosts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list hosts")
		return
	}
	out := make([]hostResponse, 0, len(hosts))
	for i := range hosts {
		out = append(out, toHostResponse(&hosts[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// load fetches the host named by the path, writing the error response
// itself when it cannot.
func (h *HostHandler) load(w http.ResponseWriter, r *http.Request) (*model.Host, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil, false
	}
	host, err := h.hosts.GetByID(id)
	if err != nil {
		h.logger.Error("failed to get host", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get host")
		return nil, false
	}
	if host == nil {
		writeError(w, http.StatusNotFound, "host not found")
		return nil, false
	}
	return host, true
}

func (h *HostHandler) Get(w http.ResponseWriter, r *http.Request) {
	host, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toHostResponse(host))
}

func (h *HostHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req hostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	host := &model.Host{}
	req.apply(host)
	if err := host.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.hosts.Create(host)
	if err != nil {
		h.logger.Error("failed to create host", "name", host.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create host")
		return
	}

	h.hub.Broadcast(websocket.NewMessage("host", "created", created.ID, nil))
	writeJSON(w, http.StatusCreated, toHostResponse(created))
}

func (h *HostHandler) Update(w http.ResponseWriter, r *http.Request) {
	host, ok := h.load(w, r)
	if !ok {
		return
	}

	var req hostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.apply(host)
	if err := host.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.hosts.Update(host)
	if err != nil {
		h.logger.Error("failed to update host", "id", host.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update host")
		return
	}

	h.hub.Broadcast(websocket.NewMessage("host", "updated", updated.ID, nil))
	writeJSON(w, http.StatusOK, toHostResponse(updated))
}

// Delete removes the host after dropping the triggers of its jobs. The
// jobs and their runs are deleted with it.
func (h *HostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	host, ok := h.load(w, r)
	if !ok {
		return
	}

	jobs, err := h.jobs.ListByHost(host.ID)
	if err != nil {
		h.logger.Error("failed to list host jobs", "id", host.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete host")
		return
	}
	for _, j := range jobs {
		h.scheduler.Unschedule(j.ID)
	}

	if err := h.hosts.Delete(host.ID); err != nil {
		h.logger.Error("failed to delete host", "id", host.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete host")
		return
	}

	h.hub.Broadcast(websocket.NewMessage("host", "deleted", host.ID, nil))
	w.WriteHeader(http.StatusNoContent)
}

// Test checks SSH connectivity and, for sudo hosts, passwordless sudo rsync.
func (h *HostHandler) Test(w http.ResponseWriter, r *http.Request) {
	host, ok := h.load(w, r)
	if !ok {
		return
	}
	report := h.remote.TestConnection(r.Context(), host, host.UseSudo)
	writeJSON(w, http.StatusOK, report)
}

// Browse lists a remote directory given by the "path" query parameter or
// JSON body field. The default is "/".
func (h *HostHandler) Browse(w http.ResponseWriter, r *http.Request) {
	host, ok := h.load(w, r)
	if !ok {
		return
	}

	req := struct {
		Path string `json:"path"`
	}{Path: r.URL.Query().Get("path")}
	if r.Method == http.MethodPost {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.Path == "" {
		req.Path = "/"
	}

	entries, err := h.remote.ListDir(r.Context(), host, req.Path)
	if err != nil {
		var ce *remote.ConnectivityError
		if errors.As(err, &ce) {
			writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": remote.ConnectFailedMessage})
			return
		}
		h.logger.Warn("browse failed", "host", host.Name, "path", req.Path, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}
	if entries == nil {
		entries = []remote.FileEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"path":    req.Path,
		"items":   entries,
	})
}
