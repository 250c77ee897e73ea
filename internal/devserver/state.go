package devserver

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/agentchat/internal/domain"
)

var (
	errNotFound  = errors.New("not found")
	errDuplicate = errors.New("already exists")
)

type account struct {
	ID       int64
	Username string
	Email    string
	Hash     []byte
}

// state is the in-memory backing store. Every accessor copies values in and
// out so callers never share memory with the maps.
type state struct {
	mu sync.Mutex

	nextID   int64
	users    map[int64]*account
	byName   map[string]int64
	tokens   map[string]int64
	agents   map[int64]*domain.Agent
	tags     map[string][]domain.Tag
	chats    map[int64]*domain.Chat
	messages map[int64][]domain.Message
	jobs     map[int64]*job
}

func newState() *state {
	s := &state{
		users:    make(map[int64]*account),
		byName:   make(map[string]int64),
		tokens:   make(map[string]int64),
		agents:   make(map[int64]*domain.Agent),
		tags:     make(map[string][]domain.Tag),
		chats:    make(map[int64]*domain.Chat),
		messages: make(map[int64][]domain.Message),
		jobs:     make(map[int64]*job),
	}
	s.seedTags("personalities", "Cheerful", "Calm", "Curious", "Sarcastic")
	s.seedTags("roles", "Friend", "Mentor", "Rival", "Assistant")
	s.seedTags("tones", "Casual", "Polite", "Playful", "Formal")
	return s
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *state) seedTags(kind string, names ...string) {
	for _, n := range names {
		s.tags[kind] = append(s.tags[kind], domain.Tag{ID: s.id(), Name: n})
	}
}

func (s *state) addUser(username, email string, hash []byte) (account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[username]; ok {
		return account{}, errDuplicate
	}
	u := &account{ID: s.id(), Username: username, Email: email, Hash: hash}
	s.users[u.ID] = u
	s.byName[username] = u.ID
	return *u, nil
}

func (s *state) userByName(username string) (account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[username]
	if !ok {
		return account{}, false
	}
	return *s.users[id], true
}

func (s *state) issueToken(token string, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = userID
}

func (s *state) userForToken(token string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[token]
	return id, ok
}

func (s *state) revokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

func (s *state) tagList(kind string) ([]domain.Tag, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags, ok := s.tags[kind]
	return append([]domain.Tag{}, tags...), ok
}

// resolveTags maps ids to known tags of kind, ignoring unknown ids.
func (s *state) resolveTags(kind string, ids []int64) []domain.Tag {
	out := []domain.Tag{}
	for _, id := range ids {
		for _, t := range s.tags[kind] {
			if t.ID == id {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func (s *state) applyInput(a *domain.Agent, in domain.AgentInput) {
	a.Name = in.Name
	a.Description = in.Description
	a.Gender = in.Gender
	a.RelationshipStatus = in.RelationshipStatus
	a.Background = in.Background
	a.HairStyle = in.HairStyle
	a.HairColor = in.HairColor
	a.EyeColor = in.EyeColor
	a.Ethnicity = in.Ethnicity
	a.Age = in.Age
	a.Height = in.Height
	a.BodyType = in.BodyType
	a.Clothing = in.Clothing
	a.ImageURL = in.ImageURL
	a.ImageSeed = in.ImageSeed
	a.FirstPerson = in.FirstPerson
	a.FirstPersonOther = in.FirstPersonOther
	a.SecondPerson = in.SecondPerson
	a.Personalities = s.resolveTags("personalities", in.PersonalityIDs)
	a.Roles = s.resolveTags("roles", in.RoleIDs)
	a.Tones = s.resolveTags("tones", in.ToneIDs)
}

func copyAgent(a *domain.Agent) domain.Agent {
	out := *a
	out.Personalities = append([]domain.Tag{}, a.Personalities...)
	out.Roles = append([]domain.Tag{}, a.Roles...)
	out.Tones = append([]domain.Tag{}, a.Tones...)
	out.Images = append([]domain.AgentImage{}, a.Images...)
	return out
}

func (s *state) createAgent(ownerID int64, in domain.AgentInput) domain.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &domain.Agent{ID: s.id(), OwnerID: ownerID, CreatedAt: domain.NewTimestamp(time.Now().UTC())}
	s.applyInput(a, in)
	s.agents[a.ID] = a
	return copyAgent(a)
}

func (s *state) agent(ownerID, id int64) (domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok || a.OwnerID != ownerID {
		return domain.Agent{}, errNotFound
	}
	return copyAgent(a), nil
}

func (s *state) listAgents(ownerID int64) []domain.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Agent{}
	for _, a := range s.agents {
		if a.OwnerID == ownerID {
			out = append(out, copyAgent(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) updateAgent(ownerID, id int64, in domain.AgentInput) (domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok || a.OwnerID != ownerID {
		return domain.Agent{}, errNotFound
	}
	s.applyInput(a, in)
	return copyAgent(a), nil
}

// deleteAgent removes the agent with its chats and returns the chat ids.
func (s *state) deleteAgent(ownerID, id int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok || a.OwnerID != ownerID {
		return nil, errNotFound
	}
	delete(s.agents, id)
	delete(s.jobs, id)
	var chatIDs []int64
	for cid, c := range s.chats {
		if c.AgentID == id {
			chatIDs = append(chatIDs, cid)
			delete(s.chats, cid)
			delete(s.messages, cid)
		}
	}
	return chatIDs, nil
}

// mutateAgent runs fn on the stored agent under the lock.
func (s *state) mutateAgent(ownerID, id int64, fn func(a *domain.Agent) error) (domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok || a.OwnerID != ownerID {
		return domain.Agent{}, errNotFound
	}
	if err := fn(a); err != nil {
		return domain.Agent{}, err
	}
	return copyAgent(a), nil
}

func (s *state) addImage(ownerID, agentID int64, url string, primary bool) (domain.AgentImage, error) {
	var img domain.AgentImage
	_, err := s.mutateAgent(ownerID, agentID, func(a *domain.Agent) error {
		img = domain.AgentImage{
			ID:        s.id(),
			AgentID:   agentID,
			ImageURL:  url,
			IsPrimary: primary || len(a.Images) == 0,
			CreatedAt: domain.NewTimestamp(time.Now().UTC()),
		}
		if img.IsPrimary {
			for i := range a.Images {
				a.Images[i].IsPrimary = false
			}
			a.ImageURL = url
		}
		a.Images = append(a.Images, img)
		return nil
	})
	return img, err
}

func (s *state) createChat(userID, agentID int64) (domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok || a.OwnerID != userID {
		return domain.Chat{}, errNotFound
	}
	c := &domain.Chat{ID: s.id(), UserID: userID, AgentID: agentID, CreatedAt: domain.NewTimestamp(time.Now().UTC())}
	s.chats[c.ID] = c
	return *c, nil
}

func (s *state) chat(userID, id int64) (domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok || c.UserID != userID {
		return domain.Chat{}, errNotFound
	}
	return *c, nil
}

func (s *state) chatsOfAgent(userID, agentID int64) []domain.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Chat{}
	for _, c := range s.chats {
		if c.UserID == userID && c.AgentID == agentID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *state) deleteChat(userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok || c.UserID != userID {
		return errNotFound
	}
	delete(s.chats, id)
	delete(s.messages, id)
	return nil
}

func (s *state) addMessage(chatID int64, sender domain.Sender, content string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return domain.Message{}, errNotFound
	}
	m := domain.Message{
		ID:        domain.MessageID(strconv.FormatInt(s.id(), 10)),
		ChatID:    chatID,
		Content:   content,
		Sender:    sender,
		CreatedAt: domain.NewTimestamp(time.Now().UTC()),
	}
	s.messages[chatID] = append(s.messages[chatID], m)
	return m, nil
}

func (s *state) chatMessages(userID, chatID int64) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok || c.UserID != userID {
		return nil, errNotFound
	}
	return append([]domain.Message{}, s.messages[chatID]...), nil
}
