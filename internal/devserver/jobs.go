package devserver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/google/uuid"
)

const (
	progressPerTick = 25
	providerName    = "DevImageClient"
	negativePrompt  = "lowres, bad anatomy, bad hands, text, error, missing fingers, cropped, worst quality, jpeg artifacts, watermark, blurry"
)

type job struct {
	log domain.GenerationLog
}

func now() domain.Timestamp {
	return domain.NewTimestamp(time.Now().UTC())
}

func copyLog(l domain.GenerationLog) domain.GenerationLog {
	out := l
	if l.Progress != nil {
		p := *l.Progress
		out.Progress = &p
	}
	if l.ImageSeed != nil {
		seed := *l.ImageSeed
		out.ImageSeed = &seed
	}
	out.Steps = append([]domain.GenerationStep{}, l.Steps...)
	return out
}

func percent(v float64) *domain.Percent {
	p := domain.Percent(v)
	return &p
}

// imagePrompt describes the agent's appearance for the image provider.
func imagePrompt(a *domain.Agent) string {
	parts := []string{"portrait", "upper body"}
	add := func(format, v string) {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, fmt.Sprintf(format, v))
		}
	}
	add("%s", a.Gender)
	if a.Age != nil {
		parts = append(parts, fmt.Sprintf("%d years old", *a.Age))
	}
	add("%s", a.Ethnicity)
	add("%s hair", strings.TrimSpace(a.HairColor+" "+a.HairStyle))
	add("%s eyes", a.EyeColor)
	add("%s body", a.BodyType)
	add("wearing %s", a.Clothing)
	return strings.Join(parts, ", ")
}

// startJob begins image generation for an agent. An agent that already has
// an image gets a cached log unless force is set.
func (s *state) startJob(ownerID, agentID int64, force bool) (domain.GenerationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok || a.OwnerID != ownerID {
		return domain.GenerationLog{}, errNotFound
	}

	started := now()
	var l domain.GenerationLog
	if a.ImageURL != "" && !force {
		l = domain.GenerationLog{
			Status:      domain.GenerationCached,
			Progress:    percent(100),
			Provider:    providerName,
			ImageURL:    a.ImageURL,
			ImageSeed:   a.ImageSeed,
			StartedAt:   started,
			CompletedAt: started,
			Steps: []domain.GenerationStep{
				{Step: "cache_check", Status: "cached", Message: "Using existing image", Timestamp: started},
			},
		}
	} else {
		l = domain.GenerationLog{
			Status:         domain.GenerationStarted,
			Progress:       percent(0),
			Provider:       providerName,
			Prompt:         imagePrompt(a),
			NegativePrompt: negativePrompt,
			StartedAt:      started,
			Steps: []domain.GenerationStep{
				{Step: "prompt_generation", Status: "completed", Message: "Prompt generated successfully", Timestamp: started},
				{Step: "image_generation", Status: "started", Provider: providerName, Timestamp: started},
			},
		}
	}
	s.jobs[agentID] = &job{log: l}
	return copyLog(l), nil
}

func (s *state) generationLog(ownerID, agentID int64) (domain.GenerationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok || a.OwnerID != ownerID {
		return domain.GenerationLog{}, errNotFound
	}
	j, ok := s.jobs[agentID]
	if !ok {
		return domain.GenerationLog{}, errNotFound
	}
	return copyLog(j.log), nil
}

// advanceJobs moves every running job one step forward and returns the ids
// of agents whose job completed.
func (s *state) advanceJobs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completed []int64
	for agentID, j := range s.jobs {
		if j.log.Status.Terminal() {
			continue
		}
		a, ok := s.agents[agentID]
		if !ok {
			delete(s.jobs, agentID)
			continue
		}
		j.log.Status = domain.GenerationPending
		p := float64(*j.log.Progress) + progressPerTick
		if p < 100 {
			j.log.Progress = percent(p)
			continue
		}
		s.completeJob(j, a)
		completed = append(completed, agentID)
	}
	return completed
}

func (s *state) completeJob(j *job, a *domain.Agent) {
	done := now()
	elapsed := done.Sub(j.log.StartedAt.Time)
	if last := len(j.log.Steps) - 1; last >= 0 {
		j.log.Steps[last].Status = "completed"
		j.log.Steps[last].Message = "Image generated successfully"
		j.log.Steps[last].GenerationTime = fmt.Sprintf("%.2fs", elapsed.Seconds())
	}
	filename := uuid.NewString() + ".png"
	j.log.Steps = append(j.log.Steps, domain.GenerationStep{
		Step: "save_image", Status: "completed", Message: "Image saved as " + filename, Timestamp: done,
	})

	seed := rand.Int64N(1 << 32)
	url := "/static/" + filename
	j.log.Status = domain.GenerationCompleted
	j.log.Progress = percent(100)
	j.log.ImageURL = url
	j.log.ImageSeed = &seed
	j.log.CompletedAt = done
	j.log.TotalTime = fmt.Sprintf("%.2fs", elapsed.Seconds())

	a.ImageURL = url
	a.ImageSeed = &seed
}

// StartJobWorker runs a background goroutine that advances image generation
// jobs every step until ctx is done.
func StartJobWorker(ctx context.Context, srv *Server, step time.Duration) {
	ticker := time.NewTicker(step)
	go func() {
		defer ticker.Stop()
		srv.logger.Info("Generation worker started", "step", step)

		for {
			select {
			case <-ticker.C:
				for _, agentID := range srv.state.advanceJobs() {
					srv.logger.Info("Generation job completed", "agent_id", agentID)
				}
			case <-ctx.Done():
				srv.logger.Info("Generation worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
