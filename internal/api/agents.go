package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/ashureev/agentchat/internal/domain"
)

// ListAgents returns the caller's agents.
func (c *Client) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	var agents []domain.Agent
	if err := c.doJSON(ctx, http.MethodGet, "/agents/", nil, &agents); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// GetAgent fetches one agent.
func (c *Client) GetAgent(ctx context.Context, id int64) (*domain.Agent, error) {
	var agent domain.Agent
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/agents/%d", id), nil, &agent); err != nil {
		return nil, fmt.Errorf("get agent %d: %w", id, err)
	}
	return &agent, nil
}

// CreateAgent persists a new agent.
func (c *Client) CreateAgent(ctx context.Context, in domain.AgentInput) (*domain.Agent, error) {
	var agent domain.Agent
	if err := c.doJSON(ctx, http.MethodPost, "/agents/", in, &agent); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return &agent, nil
}

// UpdateAgent saves an edited agent.
func (c *Client) UpdateAgent(ctx context.Context, id int64, in domain.AgentInput) (*domain.Agent, error) {
	var agent domain.Agent
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/agents/%d", id), in, &agent); err != nil {
		return nil, fmt.Errorf("update agent %d: %w", id, err)
	}
	return &agent, nil
}

// DeleteAgent removes an agent.
func (c *Client) DeleteAgent(ctx context.Context, id int64) error {
	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/agents/%d", id), nil, nil); err != nil {
		return fmt.Errorf("delete agent %d: %w", id, err)
	}
	return nil
}

// GenerateImage asks the backend to start an image generation job. The job
// runs asynchronously; progress is read with GenerationLog.
func (c *Client) GenerateImage(ctx context.Context, agentID int64, force bool) error {
	req := domain.GenerationRequest{ForceRegenerate: force}
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/agents/%d/generate-image", agentID), req, nil); err != nil {
		return fmt.Errorf("start image generation for agent %d: %w", agentID, err)
	}
	return nil
}

// GenerationLog returns the current snapshot of the agent's generation job.
func (c *Client) GenerationLog(ctx context.Context, agentID int64) (*domain.GenerationLog, error) {
	var log domain.GenerationLog
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/agents/%d/generation-log", agentID), nil, &log); err != nil {
		return nil, fmt.Errorf("generation log for agent %d: %w", agentID, err)
	}
	return &log, nil
}

// DeleteImage clears the agent's profile image.
func (c *Client) DeleteImage(ctx context.Context, agentID int64) error {
	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/agents/%d/image", agentID), nil, nil); err != nil {
		return fmt.Errorf("delete image of agent %d: %w", agentID, err)
	}
	return nil
}

// ListImages returns the agent's gallery.
func (c *Client) ListImages(ctx context.Context, agentID int64) ([]domain.AgentImage, error) {
	var images []domain.AgentImage
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/agents/%d/images", agentID), nil, &images); err != nil {
		return nil, fmt.Errorf("list images of agent %d: %w", agentID, err)
	}
	return images, nil
}

// UploadImage adds a file to the agent's gallery as a multipart upload.
func (c *Client) UploadImage(ctx context.Context, agentID int64, filename string, r io.Reader, primary bool) (*domain.AgentImage, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := mw.WriteField("is_primary", strconv.FormatBool(primary)); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, fmt.Sprintf("/agents/%d/images", agentID), &buf, WithContentType(mw.FormDataContentType()))
	if err != nil {
		return nil, fmt.Errorf("upload image for agent %d: %w", agentID, err)
	}
	var img domain.AgentImage
	if err := DecodeJSON(resp, &img); err != nil {
		return nil, fmt.Errorf("upload image for agent %d: %w", agentID, err)
	}
	return &img, nil
}

// DeleteAgentImage removes one gallery image.
func (c *Client) DeleteAgentImage(ctx context.Context, agentID, imageID int64) error {
	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/agents/%d/images/%d", agentID, imageID), nil, nil); err != nil {
		return fmt.Errorf("delete image %d of agent %d: %w", imageID, agentID, err)
	}
	return nil
}

// SetPrimaryImage marks a gallery image as the agent's primary image.
func (c *Client) SetPrimaryImage(ctx context.Context, agentID, imageID int64) error {
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/agents/%d/images/%d/set-primary", agentID, imageID), nil, nil); err != nil {
		return fmt.Errorf("set primary image %d of agent %d: %w", imageID, agentID, err)
	}
	return nil
}

// Personalities lists personality tags.
func (c *Client) Personalities(ctx context.Context) ([]domain.Tag, error) {
	return c.tags(ctx, "personalities")
}

// Roles lists role tags.
func (c *Client) Roles(ctx context.Context) ([]domain.Tag, error) {
	return c.tags(ctx, "roles")
}

// Tones lists tone tags.
func (c *Client) Tones(ctx context.Context) ([]domain.Tag, error) {
	return c.tags(ctx, "tones")
}

func (c *Client) tags(ctx context.Context, kind string) ([]domain.Tag, error) {
	var tags []domain.Tag
	if err := c.doJSON(ctx, http.MethodGet, "/tags/"+kind, nil, &tags); err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	return tags, nil
}
