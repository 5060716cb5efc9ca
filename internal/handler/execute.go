package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/actionrunner/internal/model"
	"github.com/sakif/actionrunner/internal/service"
)

// maxBodyBytes bounds request bodies; the service applies the finer code limit.
const maxBodyBytes = 1 << 20

type executeRequest struct {
	Code string `json:"code"`
}

type echoRequest struct {
	Message string `json:"message"`
}

// ActionHandler exposes the actions over JSON.
type ActionHandler struct {
	svc    *service.ActionService
	logger *slog.Logger
}

func NewActionHandler(svc *service.ActionService, logger *slog.Logger) *ActionHandler {
	return &ActionHandler{
		svc:    svc,
		logger: logger,
	}
}

// HandleExecute runs a snippet.
//
// POST /api/execute            {"code": "..."} → exec_code (publish + monitor)
// POST /api/execute?publish=false              → engine only
//
// Both answer {"body": "...", "content-type": "..."} with status 200, including
// when the snippet itself failed.
func (h *ActionHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "invalid request body"})
		return
	}

	publish := true
	if raw := r.URL.Query().Get("publish"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "publish must be a boolean"})
			return
		}
		publish = v
	}

	var (
		res model.Response
		err error
	)
	if publish {
		res, err = h.svc.ExecCode(r.Context(), req.Code)
	} else {
		res, err = h.svc.Execute(r.Context(), req.Code)
	}
	if err != nil {
		h.logger.Warn("execute request failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// HandleEcho answers {"message": "..."} with the message as a text/plain response.
func (h *ActionHandler) HandleEcho(w http.ResponseWriter, r *http.Request) {
	var req echoRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "invalid request body"})
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Echo(req.Message))
}
