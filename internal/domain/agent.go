// Package domain contains core domain types shared by the client and the
// development backend.
package domain

// Tag is a personality, role or tone label an agent can carry.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AgentImage is one entry of an agent's photo gallery.
type AgentImage struct {
	ID        int64     `json:"id"`
	AgentID   int64     `json:"agent_id"`
	ImageURL  string    `json:"image_url"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt Timestamp `json:"created_at"`
}

// Agent is a configurable chat persona as returned by the backend.
type Agent struct {
	ID                 int64        `json:"id"`
	OwnerID            int64        `json:"owner_id"`
	Name               string       `json:"name"`
	Description        string       `json:"description,omitempty"`
	Gender             string       `json:"gender,omitempty"`
	RelationshipStatus string       `json:"relationship_status,omitempty"`
	Background         string       `json:"background,omitempty"`
	HairStyle          string       `json:"hair_style,omitempty"`
	HairColor          string       `json:"hair_color,omitempty"`
	EyeColor           string       `json:"eye_color,omitempty"`
	Ethnicity          string       `json:"ethnicity,omitempty"`
	Age                *int         `json:"age,omitempty"`
	Height             *int         `json:"height,omitempty"`
	BodyType           string       `json:"body_type,omitempty"`
	Clothing           string       `json:"clothing,omitempty"`
	ImageURL           string       `json:"image_url,omitempty"`
	ImageSeed          *int64       `json:"image_seed"`
	FirstPerson        string       `json:"first_person,omitempty"`
	FirstPersonOther   string       `json:"first_person_other,omitempty"`
	SecondPerson       string       `json:"second_person,omitempty"`
	Personalities      []Tag        `json:"personalities"`
	Roles              []Tag        `json:"roles"`
	Tones              []Tag        `json:"tones"`
	Images             []AgentImage `json:"images"`
	CreatedAt          Timestamp    `json:"created_at"`
}

// AgentInput is the body of agent create and update calls. ImageSeed is
// always serialized so that clearing it reaches the backend as null.
type AgentInput struct {
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	Gender             string  `json:"gender"`
	RelationshipStatus string  `json:"relationship_status"`
	Background         string  `json:"background"`
	HairStyle          string  `json:"hair_style"`
	HairColor          string  `json:"hair_color"`
	EyeColor           string  `json:"eye_color"`
	Ethnicity          string  `json:"ethnicity"`
	Age                *int    `json:"age,omitempty"`
	Height             *int    `json:"height,omitempty"`
	BodyType           string  `json:"body_type"`
	Clothing           string  `json:"clothing"`
	ImageURL           string  `json:"image_url"`
	ImageSeed          *int64  `json:"image_seed"`
	FirstPerson        string  `json:"first_person"`
	FirstPersonOther   string  `json:"first_person_other"`
	SecondPerson       string  `json:"second_person"`
	PersonalityIDs     []int64 `json:"personality_ids"`
	RoleIDs            []int64 `json:"role_ids"`
	ToneIDs            []int64 `json:"tone_ids"`
}

// Input returns the editable copy of an agent, as a form would hold it.
func (a *Agent) Input() AgentInput {
	return AgentInput{
		Name:               a.Name,
		Description:        a.Description,
		Gender:             a.Gender,
		RelationshipStatus: a.RelationshipStatus,
		Background:         a.Background,
		HairStyle:          a.HairStyle,
		HairColor:          a.HairColor,
		EyeColor:           a.EyeColor,
		Ethnicity:          a.Ethnicity,
		Age:                a.Age,
		Height:             a.Height,
		BodyType:           a.BodyType,
		Clothing:           a.Clothing,
		ImageURL:           a.ImageURL,
		ImageSeed:          a.ImageSeed,
		FirstPerson:        a.FirstPerson,
		FirstPersonOther:   a.FirstPersonOther,
		SecondPerson:       a.SecondPerson,
		PersonalityIDs:     tagIDs(a.Personalities),
		RoleIDs:            tagIDs(a.Roles),
		ToneIDs:            tagIDs(a.Tones),
	}
}

// PrimaryImage returns the gallery image flagged primary, falling back to the
// first image. The second result is false for an empty gallery.
func (a *Agent) PrimaryImage() (AgentImage, bool) {
	for _, img := range a.Images {
		if img.IsPrimary {
			return img, true
		}
	}
	if len(a.Images) > 0 {
		return a.Images[0], true
	}
	return AgentImage{}, false
}

func tagIDs(tags []Tag) []int64 {
	ids := make([]int64, 0, len(tags))
	for _, t := range tags {
		ids = append(ids, t.ID)
	}
	return ids
}
