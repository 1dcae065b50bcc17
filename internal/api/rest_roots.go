package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"treemirror/internal/logging"
	"treemirror/internal/mirror"
	"treemirror/internal/snapshot"
	"treemirror/internal/workspace"
)

type RestHandler struct {
	Workspace   *workspace.Workspace
	Logger      *logging.Logger
	ReadTimeout time.Duration
}

type nodeSummary struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Dir      bool      `json:"dir"`
	ModTime  time.Time `json:"mod_time"`
	Size     int64     `json:"size,omitempty"`
	Children int       `json:"children,omitempty"`
}

type treeResponse struct {
	Root     string        `json:"root"`
	Node     nodeSummary   `json:"node"`
	Children []nodeSummary `json:"children"`
	Listing  []string      `json:"listing,omitempty"`
}

type contentResponse struct {
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
	Text    string    `json:"text"`
}

type filtersRequest struct {
	Allow   []string `json:"allow"`
	Deny    []string `json:"deny"`
	Ignore  []string `json:"ignore"`
	Cascade *bool    `json:"cascade"`
}

func (h *RestHandler) handleRoots(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, http.MethodGet)
	}
	roots := h.Workspace.Roots()
	infos := make([]workspace.Info, 0, len(roots))
	for _, root := range roots {
		infos = append(infos, root.Info())
	}
	writeJSON(w, http.StatusOK, infos)
	return nil
}

// handleRoot dispatches /api/roots/{id}/{action}.
func (h *RestHandler) handleRoot(w http.ResponseWriter, r *http.Request) *apiError {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/roots/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		return &apiError{Status: http.StatusNotFound, Message: "root id is required"}
	}
	root, err := h.Workspace.Root(id)
	if err != nil {
		return errorForMirror(err)
	}

	switch action {
	case "", "tree":
		if r.Method != http.MethodGet {
			return methodNotAllowed(w, http.MethodGet)
		}
		return h.handleTree(w, r, root)
	case "content":
		if r.Method != http.MethodGet {
			return methodNotAllowed(w, http.MethodGet)
		}
		return h.handleContent(w, r, root)
	case "filters":
		if r.Method != http.MethodPut {
			return methodNotAllowed(w, http.MethodPut)
		}
		return h.handleFilters(w, r, root)
	case "refresh":
		if r.Method != http.MethodPost {
			return methodNotAllowed(w, http.MethodPost)
		}
		if err := h.Workspace.Refresh(root.ID); err != nil {
			return errorForMirror(err)
		}
		writeJSON(w, http.StatusOK, root.Info())
		return nil
	case "snapshot":
		if r.Method != http.MethodGet {
			return methodNotAllowed(w, http.MethodGet)
		}
		return h.handleSnapshot(w, root)
	default:
		return &apiError{Status: http.StatusNotFound, Message: "unknown root action"}
	}
}

func (h *RestHandler) resolve(root *workspace.Root, r *http.Request) (*mirror.Node, *apiError) {
	relative := r.URL.Query().Get("path")
	node, ok := root.Node.FindDescendant(relative)
	if !ok {
		return nil, &apiError{Status: http.StatusNotFound, Message: "path not mirrored"}
	}
	return node, nil
}

func (h *RestHandler) handleTree(w http.ResponseWriter, r *http.Request, root *workspace.Root) *apiError {
	node, apiErr := h.resolve(root, r)
	if apiErr != nil {
		return apiErr
	}
	children := node.Children()
	response := treeResponse{
		Root:     root.ID,
		Node:     summarize(node),
		Children: make([]nodeSummary, 0, len(children)),
	}
	for _, child := range children {
		response.Children = append(response.Children, summarize(child))
	}
	if r.URL.Query().Get("listing") == "true" {
		response.Listing = node.Listing()
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}

func summarize(node *mirror.Node) nodeSummary {
	summary := nodeSummary{
		Name:    node.Name(),
		Path:    strings.ReplaceAll(node.RelativePath(), "\\", "/"),
		Dir:     node.IsDir(),
		ModTime: node.ModTime(),
	}
	if summary.Dir {
		summary.Children = len(node.Children())
	} else {
		summary.Size = node.Size()
	}
	return summary
}

func (h *RestHandler) handleContent(w http.ResponseWriter, r *http.Request, root *workspace.Root) *apiError {
	node, apiErr := h.resolve(root, r)
	if apiErr != nil {
		return apiErr
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.ReadTimeout)
	defer cancel()
	content, err := node.ReadContent(ctx)
	if err != nil {
		return errorForMirror(err)
	}
	writeJSON(w, http.StatusOK, contentResponse{
		Path:    summarize(node).Path,
		ModTime: content.ModTime,
		Text:    content.Text,
	})
	return nil
}

func (h *RestHandler) handleFilters(w http.ResponseWriter, r *http.Request, root *workspace.Root) *apiError {
	var request filtersRequest
	if apiErr := decodeJSON(w, r, &request); apiErr != nil {
		return apiErr
	}
	cascade := request.Cascade == nil || *request.Cascade
	if err := h.Workspace.SetFilters(root.ID, request.Allow, request.Deny, request.Ignore, cascade); err != nil {
		return errorForMirror(err)
	}
	writeJSON(w, http.StatusOK, root.Info())
	return nil
}

func (h *RestHandler) handleSnapshot(w http.ResponseWriter, root *workspace.Root) *apiError {
	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", `attachment; filename="`+root.Name+`.jsonl.zst"`)
	if _, err := snapshot.Write(w, root.Node); err != nil {
		// Headers are gone; the client sees a truncated stream.
		h.Logger.Warn("snapshot failed", map[string]string{
			"id":               root.ID,
			logging.FieldError: err.Error(),
		})
	}
	return nil
}
