package stories

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"toonframe_back/generation"
	"toonframe_back/storyboards"
)

type fakeResolver struct{}

func (fakeResolver) ResolveImage(_ context.Context, value, category, _ string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", nil
	}
	if !strings.HasPrefix(trimmed, "data:image/") {
		return trimmed, nil
	}
	return fmt.Sprintf("https://cdn.test/%s/%d_resolved.png", category, time.Now().UnixMilli()), nil
}

type fakeGenerator struct {
	requests []generation.Request
	err      error
	result   generation.Result
}

func (g *fakeGenerator) Generate(_ context.Context, req generation.Request) (generation.Result, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return generation.Result{}, g.err
	}
	if g.result.ImageData != "" {
		return g.result, nil
	}
	return generation.Result{ImageData: generation.PlaceholderDataURL, Text: "generated"}, nil
}

func newTestModule(t *testing.T) (*Module, *fakeGenerator) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&Story{}, &storyboards.Scene{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	generator := &fakeGenerator{}
	scenes := storyboards.NewModule(db, fakeResolver{}, generator)
	return &Module{db: db, generator: generator, scenes: scenes}, generator
}

func newTestRouter(m *Module) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	group := router.Group("/stories")
	group.GET("", m.handleListStories)
	group.POST("", m.handleCreateStory)
	group.PUT("/:id", m.handleUpdateStory)

	router.POST("/generate-story-image", m.handleGenerateStoryImage)

	return router
}

func TestSaveStoryRequiresText(t *testing.T) {
	m, _ := newTestModule(t)

	if _, err := m.SaveStory(context.Background(), "   \n\t", nil); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestSaveStoryLeavesUpdatedAtEmpty(t *testing.T) {
	m, _ := newTestModule(t)

	story, err := m.SaveStory(context.Background(), "once upon a time", nil)
	if err != nil {
		t.Fatalf("save story: %v", err)
	}
	if story.Updated != nil {
		t.Errorf("updated must stay empty on first save, got %v", story.Updated)
	}

	var reloaded Story
	if err := m.db.First(&reloaded, "id = ?", story.ID).Error; err != nil {
		t.Fatalf("reload story: %v", err)
	}
	if reloaded.Updated != nil {
		t.Errorf("stored updated_at must be null, got %v", reloaded.Updated)
	}
}

func TestUpdateStoryReplacesElementsWholesale(t *testing.T) {
	m, _ := newTestModule(t)

	elements := []StoryElement{
		{Type: ElementTypeText, Content: "A duel at dawn. "},
	}
	elements, marker := AppendCharacterReference(elements, CharacterRef{ID: 7, Name: "Ari", ImageURL: "https://cdn.test/characters/ari.png"})
	if marker != "[Ari]" {
		t.Fatalf("expected marker [Ari], got %q", marker)
	}

	story, err := m.SaveStory(context.Background(), "A duel at dawn. [Ari]", elements)
	if err != nil {
		t.Fatalf("save story: %v", err)
	}

	// 整体替换:同一角色重复出现,顺序原样保留,不做去重。
	replacement := []StoryElement{}
	replacement, _ = AppendCharacterReference(replacement, CharacterRef{ID: 7, Name: "Ari", ImageURL: "https://cdn.test/characters/ari.png"})
	replacement = append(replacement, StoryElement{Type: ElementTypeText, Content: " meets "})
	replacement, _ = AppendCharacterReference(replacement, CharacterRef{ID: 7, Name: "Ari", ImageURL: "https://cdn.test/characters/ari.png"})

	updated, err := m.UpdateStory(context.Background(), story.ID, "[Ari] meets [Ari]", replacement)
	if err != nil {
		t.Fatalf("update story: %v", err)
	}
	if updated.Updated == nil {
		t.Error("updated_at must be set after an edit")
	}

	var reloaded Story
	if err := m.db.First(&reloaded, "id = ?", story.ID).Error; err != nil {
		t.Fatalf("reload story: %v", err)
	}
	decoded, err := DecodeElements(reloaded.Elements)
	if err != nil {
		t.Fatalf("decode elements: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(decoded))
	}
	if decoded[0].Type != ElementTypeCharacter || decoded[1].Type != ElementTypeText || decoded[2].Type != ElementTypeCharacter {
		t.Errorf("element order not preserved: %+v", decoded)
	}
}

func TestUpdateStoryUnknownID(t *testing.T) {
	m, _ := newTestModule(t)

	if _, err := m.UpdateStory(context.Background(), 404, "text", nil); !errors.Is(err, ErrStoryNotFound) {
		t.Fatalf("expected ErrStoryNotFound, got %v", err)
	}
}

func TestCharacterRefIsValueSnapshot(t *testing.T) {
	ref := CharacterRef{ID: 1, Name: "Ari", ImageURL: "https://cdn.test/characters/v1.png"}
	elements, _ := AppendCharacterReference(nil, ref)

	// 角色随后改名换图,已保存的快照不跟随变化。
	ref.Name = "Renamed"
	ref.ImageURL = "https://cdn.test/characters/v2.png"

	if elements[0].Character.Name != "Ari" || elements[0].Character.ImageURL != "https://cdn.test/characters/v1.png" {
		t.Errorf("snapshot mutated with source ref: %+v", elements[0].Character)
	}
}

func TestGenerateSceneFromStoryPassesCharacterReferences(t *testing.T) {
	m, generator := newTestModule(t)

	elements := []StoryElement{{Type: ElementTypeText, Content: "intro "}}
	elements, _ = AppendCharacterReference(elements, CharacterRef{ID: 1, Name: "Ari", ImageURL: "https://cdn.test/characters/ari.png"})
	elements, _ = AppendCharacterReference(elements, CharacterRef{ID: 2, Name: "Bo", ImageURL: "https://cdn.test/characters/bo.png"})

	scene, text, err := m.GenerateSceneFromStory(context.Background(), "intro [Ari][Bo]", elements, "16:9")
	if err != nil {
		t.Fatalf("generate scene: %v", err)
	}
	if text != "generated" {
		t.Errorf("unexpected generated text %q", text)
	}
	if scene.ID == 0 {
		t.Error("scene must be persisted")
	}

	if len(generator.requests) != 1 {
		t.Fatalf("expected 1 gateway call, got %d", len(generator.requests))
	}
	refs := generator.requests[0].ReferenceImages
	if len(refs) != 2 || refs[0] != "https://cdn.test/characters/ari.png" || refs[1] != "https://cdn.test/characters/bo.png" {
		t.Errorf("unexpected reference images %v", refs)
	}
}

func TestGenerateSceneFromStoryTruncatesDescription(t *testing.T) {
	m, _ := newTestModule(t)

	text := strings.Repeat("夜", 150)
	scene, _, err := m.GenerateSceneFromStory(context.Background(), text, nil, "")
	if err != nil {
		t.Fatalf("generate scene: %v", err)
	}
	if got := len([]rune(scene.Description)); got != sceneDescriptionLimit {
		t.Errorf("expected %d-rune description, got %d", sceneDescriptionLimit, got)
	}
}

func TestGenerateSceneFromStoryGatewayFailureWritesNothing(t *testing.T) {
	m, generator := newTestModule(t)
	generator.err = fmt.Errorf("%w: upstream busy", generation.ErrGenerationFailed)

	if _, _, err := m.GenerateSceneFromStory(context.Background(), "a quiet street", nil, ""); !errors.Is(err, generation.ErrGenerationFailed) {
		t.Fatalf("expected gateway failure, got %v", err)
	}

	var count int64
	m.db.Model(&storyboards.Scene{}).Count(&count)
	if count != 0 {
		t.Errorf("failed generation must not persist scenes, found %d", count)
	}
}

func TestCreateStoryEndpointOmitsUpdatedAt(t *testing.T) {
	m, _ := newTestModule(t)
	router := newTestRouter(m)

	body, _ := json.Marshal(map[string]any{"text": "first draft"})
	req := httptest.NewRequest(http.MethodPost, "/stories", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		Success bool                       `json:"success"`
		Story   map[string]json.RawMessage `json:"story"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !response.Success {
		t.Fatalf("unexpected response %s", recorder.Body.String())
	}
	if _, present := response.Story["updatedAt"]; present {
		t.Error("updatedAt must be absent until the first edit")
	}
	if _, present := response.Story["elements"]; !present {
		t.Error("elements must always be present, even when empty")
	}
}

func TestGenerateStoryImageEndpointBadGateway(t *testing.T) {
	m, generator := newTestModule(t)
	generator.err = fmt.Errorf("%w: no image in response", generation.ErrGenerationFailed)
	router := newTestRouter(m)

	body, _ := json.Marshal(map[string]any{"story": "a quiet street"})
	req := httptest.NewRequest(http.MethodPost, "/generate-story-image", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", recorder.Code, recorder.Body.String())
	}
}
