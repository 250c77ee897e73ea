package devserver

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxUploadSize = 10 << 20

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	tags, ok := s.state.tagList(chi.URLParam(r, "kind"))
	if !ok {
		Error(w, http.StatusNotFound, "Unknown tag kind")
		return
	}
	JSON(w, http.StatusOK, tags)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, s.state.listAgents(UserIDFromContext(r.Context())))
}

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var in domain.AgentInput
	if err := decodeBody(r, &in); err != nil {
		Error(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		Error(w, http.StatusUnprocessableEntity, "name is required")
		return
	}
	a := s.state.createAgent(UserIDFromContext(r.Context()), in)
	s.logger.Info("Agent created", "agent_id", a.ID, "owner_id", a.OwnerID)
	JSON(w, http.StatusCreated, a)
}

// withAgent resolves the {agentID} parameter for the caller.
func (s *Server) withAgent(w http.ResponseWriter, r *http.Request) (domain.Agent, bool) {
	id, ok := idParam(r, "agentID")
	if !ok {
		Error(w, http.StatusNotFound, "Agent not found")
		return domain.Agent{}, false
	}
	a, err := s.state.agent(UserIDFromContext(r.Context()), id)
	if err != nil {
		Error(w, http.StatusNotFound, "Agent not found")
		return domain.Agent{}, false
	}
	return a, true
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	if a, ok := s.withAgent(w, r); ok {
		JSON(w, http.StatusOK, a)
	}
}

func (s *Server) updateAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := s.withAgent(w, r)
	if !ok {
		return
	}
	var in domain.AgentInput
	if err := decodeBody(r, &in); err != nil {
		Error(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	updated, err := s.state.updateAgent(a.OwnerID, a.ID, in)
	if err != nil {
		Error(w, http.StatusNotFound, "Agent not found")
		return
	}
	JSON(w, http.StatusOK, updated)
}

func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := s.withAgent(w, r)
	if !ok {
		return
	}
	chatIDs, err := s.state.deleteAgent(a.OwnerID, a.ID)
	if err != nil {
		Error(w, http.StatusNotFound, "Agent not found")
		return
	}
	for _, id := range chatIDs {
		s.sessions.CloseChat(id)
	}
	s.logger.Info("Agent deleted", "agent_id", a.ID, "chats_deleted", len(chatIDs))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) generateImage(w http.ResponseWriter, r *http.Request) {
	a, ok := s.withAgent(w, r)
	if !ok {
		return
	}
	var req domain.GenerationRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
			Error(w, http.StatusUnprocessableEntity, "invalid request body")
			return
		}
	}
	log, err := s.state.startJob(a.OwnerID, a.ID, req.ForceRegenerate)
	if err != nil {
		Error(w, http.StatusNotFound, "Agent not found")
		return
	}
	s.logger.Info("Generation job accepted", "agent_id", a.ID, "status", log.Status, "force", req.ForceRegenerate)
	JSON(w, http.StatusAccepted, map[string]any{"status": log.Status, "agent_id": a.ID})
}

func (s *Server) generationLog(w http.ResponseWriter, r *http.Request) {
	a, ok := s.withAgent(w, r)
	if !ok {
		return
	}
	log, err := s.state.generationLog(a.OwnerID, a.ID)
	if err != nil {
		Error(w, http.StatusNotFound, "No generation log for this agent")
		return
	}
	JSON(w, http.StatusOK, log)
}

func (s *Server) deleteProfileImage(w http.ResponseWriter, r *http.Request) {
	a, ok := s.withAgent(w, r)
	if !ok {
		return
	}
	_, err := s.state.mutateAgent(a.OwnerID, a.ID, func(a *domain.Agent) error {
		a.ImageURL = ""
		a.ImageSeed = nil
		for i := range a.Images {
			a.Images[i].IsPrimary = false
		}
		return nil
	})
	if err != nil {
		Error(w, http.StatusNotFound, "Agent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listImages(w http.ResponseWriter, r *http.Request) {
	if a, ok := s.withAgent(w, r); ok {
		JSON(w, http.StatusOK, a.Images)
	}
}

func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request) {
	a, ok := s.withAgent(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		Error(w, http.StatusUnprocessableEntity, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusUnprocessableEntity, "file is required")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	ext := strings.ToLower(path.Ext(header.Filename))
	if ext == "" {
		ext = ".png"
	}
	name := uuid.NewString() + ext

	s.uploadsMu.Lock()
	s.uploads[name] = data
	s.uploadsMu.Unlock()

	primary, _ := strconv.ParseBool(r.FormValue("is_primary"))
	img, err := s.state.addImage(a.OwnerID, a.ID, "/static/"+name, primary)
	if err != nil {
		Error(w, http.StatusNotFound, "Agent not found")
		return
	}
	s.logger.Info("Gallery image uploaded", "agent_id", a.ID, "image_id", img.ID, "bytes", len(data), "primary", img.IsPrimary)
	JSON(w, http.StatusCreated, img)
}

func (s *Server) deleteImage(w http.ResponseWriter, r *http.Request) {
	a, ok := s.withAgent(w, r)
	if !ok {
		return
	}
	imageID, ok := idParam(r, "imageID")
	if !ok {
		Error(w, http.StatusNotFound, "Image not found")
		return
	}
	_, err := s.state.mutateAgent(a.OwnerID, a.ID, func(a *domain.Agent) error {
		for i, img := range a.Images {
			if img.ID != imageID {
				continue
			}
			a.Images = append(a.Images[:i], a.Images[i+1:]...)
			if img.IsPrimary {
				a.ImageURL = ""
				if len(a.Images) > 0 {
					a.Images[0].IsPrimary = true
					a.ImageURL = a.Images[0].ImageURL
				}
			}
			return nil
		}
		return errNotFound
	})
	if err != nil {
		Error(w, http.StatusNotFound, "Image not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setPrimaryImage(w http.ResponseWriter, r *http.Request) {
	a, ok := s.withAgent(w, r)
	if !ok {
		return
	}
	imageID, ok := idParam(r, "imageID")
	if !ok {
		Error(w, http.StatusNotFound, "Image not found")
		return
	}
	updated, err := s.state.mutateAgent(a.OwnerID, a.ID, func(a *domain.Agent) error {
		found := -1
		for i := range a.Images {
			if a.Images[i].ID == imageID {
				found = i
			}
		}
		if found < 0 {
			return errNotFound
		}
		for i := range a.Images {
			a.Images[i].IsPrimary = i == found
		}
		a.ImageURL = a.Images[found].ImageURL
		return nil
	})
	if err != nil {
		Error(w, http.StatusNotFound, "Image not found")
		return
	}
	JSON(w, http.StatusOK, updated)
}
