package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user/bedtime/internal/query"
	"github.com/user/bedtime/internal/story"
	"github.com/user/bedtime/internal/tags"
	"github.com/user/bedtime/internal/types"
	"github.com/user/bedtime/pkg/tts"
)

// bind decodes and validates the JSON body into v.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, fmt.Errorf("%w: %v", types.ErrInvalidInput, err))
		return false
	}
	return true
}

func storyBody(rec *types.StoryRecord) gin.H {
	return gin.H{"id": rec.ID, "story": rec.Text, "metadata": rec.Metadata}
}

func (s *Server) handleHealth(c *gin.Context) {
	count, err := s.stories.Count(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"stories":       count,
		"llmConfigured": s.opts.LLMConfigured,
		"ttsConfigured": s.opts.TTSConfigured,
		"uptime":        int64(time.Since(s.started).Seconds()),
	})
}

type generateRequest struct {
	Prompt     string   `json:"prompt" binding:"required"`
	Age        int      `json:"age" binding:"required,gt=0"`
	Theme      string   `json:"theme" binding:"required"`
	Length     string   `json:"length"`
	Title      string   `json:"title"`
	CustomTags []string `json:"customTags"`
	Categories []string `json:"categories"`
	UserID     string   `json:"userId"`
	Save       bool     `json:"save"`
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req generateRequest
	if !bind(c, &req) {
		return
	}
	res, err := s.stories.Generate(c.Request.Context(), story.GenerateInput{
		GenerationRequest: types.GenerationRequest{
			Prompt: req.Prompt,
			Age:    req.Age,
			Theme:  req.Theme,
			Length: types.LengthClass(req.Length),
		},
		Title:      req.Title,
		CustomTags: req.CustomTags,
		Categories: req.Categories,
		OwnerID:    req.UserID,
		Save:       req.Save,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	body := storyBody(res.Record)
	body["saved"] = res.Saved
	body["fallback"] = res.Fallback
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleSave(c *gin.Context) {
	var rec types.StoryRecord
	if !bind(c, &rec) {
		return
	}
	if err := s.stories.Save(c.Request.Context(), &rec); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": rec.ID})
}

// parseFilter reads the listing query parameters. Page and limit, when
// given, must be positive.
func parseFilter(c *gin.Context) (query.Filter, error) {
	var f query.Filter
	if raw := c.Query("tags"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.Tags = append(f.Tags, t)
			}
		}
	}
	f.Category = c.Query("category")
	f.Theme = c.Query("theme")
	f.OwnerID = c.Query("userId")
	f.SortKey = query.SortKey(c.Query("sortBy"))
	f.SortOrder = query.SortOrder(c.Query("sortOrder"))

	ints := []struct {
		name     string
		positive bool
		set      func(int)
	}{
		{"ageMin", false, func(v int) { f.AgeMin = &v }},
		{"ageMax", false, func(v int) { f.AgeMax = &v }},
		{"page", true, func(v int) { f.Page = v }},
		{"limit", true, func(v int) { f.PageSize = v }},
	}
	for _, p := range ints {
		raw, ok := c.GetQuery(p.name)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return f, fmt.Errorf("%w: %s must be an integer", types.ErrInvalidInput, p.name)
		}
		if p.positive && v < 1 {
			return f, fmt.Errorf("%w: %s must be >= 1", types.ErrInvalidInput, p.name)
		}
		p.set(v)
	}
	return f, nil
}

func (s *Server) list(c *gin.Context, f query.Filter) {
	res, err := s.stories.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleListStories(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		writeError(c, err)
		return
	}
	s.list(c, f)
}

func (s *Server) handleUserStories(c *gin.Context) {
	owner := strings.TrimSpace(c.GetHeader("X-User-ID"))
	if owner == "" {
		writeError(c, fmt.Errorf("%w: X-User-ID header is required", types.ErrInvalidInput))
		return
	}
	f, err := parseFilter(c)
	if err != nil {
		writeError(c, err)
		return
	}
	f.OwnerID = owner
	s.list(c, f)
}

func (s *Server) handleGetStory(c *gin.Context) {
	rec, err := s.stories.Get(c.Request.Context(), types.StoryID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, storyBody(rec))
}

type editRequest struct {
	EditInstructions string    `json:"editInstructions" binding:"required"`
	Title            *string   `json:"title"`
	Prompt           *string   `json:"prompt"`
	Age              *int      `json:"age" binding:"omitempty,gt=0"`
	Theme            *string   `json:"theme"`
	Length           *string   `json:"length"`
	Categories       *[]string `json:"categories"`
	RegenerateAudio  bool      `json:"regenerateAudio"`
	voiceRequest
	tags.Ops
}

func (s *Server) handleEditStory(c *gin.Context) {
	var req editRequest
	if !bind(c, &req) {
		return
	}
	voice, err := req.spec()
	if err != nil {
		writeError(c, err)
		return
	}
	in := story.EditInput{
		Instructions:    req.EditInstructions,
		Tags:            req.Ops,
		Categories:      req.Categories,
		Title:           req.Title,
		Prompt:          req.Prompt,
		Age:             req.Age,
		Theme:           req.Theme,
		RegenerateAudio: req.RegenerateAudio,
		Voice:           voice,
	}
	if req.Length != nil {
		l := types.LengthClass(*req.Length)
		in.Length = &l
	}

	res, err := s.stories.Edit(c.Request.Context(), types.StoryID(c.Param("id")), in)
	if err != nil {
		writeError(c, err)
		return
	}
	body := storyBody(res.Record)
	body["fallback"] = res.Fallback
	if res.AudioError != "" {
		body["audioError"] = res.AudioError
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleDeleteStory(c *gin.Context) {
	id := types.StoryID(c.Param("id"))
	if err := s.stories.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

func (s *Server) handleUpdateTags(c *gin.Context) {
	var ops tags.Ops
	if !bind(c, &ops) {
		return
	}
	id := types.StoryID(c.Param("id"))
	updated, err := s.stories.UpdateTags(c.Request.Context(), id, ops)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "tags": updated})
}

type categoriesRequest struct {
	Categories []string `json:"categories"`
}

func (s *Server) handleUpdateCategories(c *gin.Context) {
	var req categoriesRequest
	if !bind(c, &req) {
		return
	}
	id := types.StoryID(c.Param("id"))
	updated, err := s.stories.UpdateCategories(c.Request.Context(), id, req.Categories)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "categories": updated})
}

func (s *Server) handleTags(c *gin.Context) {
	all, err := s.stories.Tags(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": all})
}

func (s *Server) handleCategories(c *gin.Context) {
	all, err := s.stories.Categories(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": all})
}

// voiceRequest carries the optional voice fields shared by audio requests.
type voiceRequest struct {
	LanguageCode  string  `json:"languageCode"`
	VoiceID       string  `json:"voiceId"`
	AudioEncoding string  `json:"audioEncoding"`
	SpeakingRate  float64 `json:"speakingRate" binding:"omitempty,gte=0.25,lte=4"`
	Pitch         float64 `json:"pitch" binding:"omitempty,gte=-20,lte=20"`
}

func (v voiceRequest) spec() (tts.VoiceSpec, error) {
	spec := tts.VoiceSpec{
		LanguageCode: v.LanguageCode,
		Name:         v.VoiceID,
		SpeakingRate: v.SpeakingRate,
		Pitch:        v.Pitch,
	}
	if v.AudioEncoding != "" {
		enc, err := tts.ParseEncoding(v.AudioEncoding)
		if err != nil {
			return spec, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
		}
		spec.Encoding = enc
	}
	return spec, nil
}

type audioRequest struct {
	Text    string `json:"text"`
	StoryID string `json:"storyId"`
	voiceRequest
}

func (s *Server) handleGenerateAudio(c *gin.Context) {
	var req audioRequest
	if !bind(c, &req) {
		return
	}
	voice, err := req.spec()
	if err != nil {
		writeError(c, err)
		return
	}
	url, err := s.stories.GenerateAudio(c.Request.Context(), story.AudioInput{
		Text:    req.Text,
		Voice:   voice,
		StoryID: types.StoryID(req.StoryID),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audioUrl": url, "storyId": req.StoryID})
}

func (s *Server) handleListVoices(c *gin.Context) {
	voices, err := s.stories.Voices(c.Request.Context(), c.Query("languageCode"))
	if err != nil {
		writeError(c, err)
		return
	}
	if voices == nil {
		voices = []tts.Voice{}
	}
	c.JSON(http.StatusOK, gin.H{"voices": voices})
}
