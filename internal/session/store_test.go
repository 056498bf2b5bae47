package session

import (
	"os"
	"path/filepath"
	"testing"

	"doctrans/internal/segmenter"
	"doctrans/internal/translator"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "projects"))
	if err != nil {
		t.Fatalf("failed to create Store: %v", err)
	}
	return store
}

func sampleChunks() []translator.TranslatedChunk {
	return []translator.TranslatedChunk{
		{
			Chunk:       segmenter.Chunk{ID: "chunk-0", Position: 0, Text: "## Scope", Type: segmenter.TypeHeading, Level: 2, Heading: "Scope"},
			Translation: "## 范围",
		},
		{
			Chunk:       segmenter.Chunk{ID: "chunk-1", Position: 1, Text: "The equipment must comply.", Type: segmenter.TypeParagraph},
			Translation: "设备必须合规。",
		},
	}
}

// ========== Project CRUD ==========

func TestCreate(t *testing.T) {
	store := tempStore(t)
	proj, err := store.Create("EN 13849 manual")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if proj.Title != "EN 13849 manual" {
		t.Errorf("title = %q", proj.Title)
	}
	if proj.ID == "" {
		t.Error("expected non-empty project ID")
	}
	if proj.Status != "upload" {
		t.Errorf("status = %q, want 'upload'", proj.Status)
	}
	if proj.CreatedAt.IsZero() {
		t.Error("expected non-zero CreatedAt")
	}
	if _, err := os.Stat(store.UploadsDir(proj.ID)); err != nil {
		t.Errorf("uploads dir not created: %v", err)
	}
}

func TestCreate_EmptyTitleGetsDefault(t *testing.T) {
	store := tempStore(t)
	proj, err := store.Create("")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if proj.Title == "" {
		t.Error("expected an auto-generated title")
	}
}

func TestUpdateAndGet(t *testing.T) {
	store := tempStore(t)
	proj, _ := store.Create("doc")

	proj.Status = "ready"
	proj.ChunkCount = 12
	proj.FailedCount = 1
	proj.Coverage = 0.75
	if err := store.Update(*proj); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.Get(proj.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != "ready" || got.ChunkCount != 12 || got.Coverage != 0.75 {
		t.Errorf("updated project = %+v", got)
	}
	if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Error("UpdatedAt not refreshed")
	}
}

func TestGet_NotFound(t *testing.T) {
	store := tempStore(t)
	if _, err := store.Get("nope"); err == nil {
		t.Error("expected error for unknown project")
	}
}

func TestListSurvivesReload(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "projects")
	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	p1, _ := store.Create("one")
	_, _ = store.Create("two")

	reloaded, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	projects := reloaded.List()
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects after reload, got %d", len(projects))
	}
	if _, err := reloaded.Get(p1.ID); err != nil {
		t.Errorf("project lost across reload: %v", err)
	}
}

func TestDelete_CascadesChunks(t *testing.T) {
	store := tempStore(t)
	proj, _ := store.Create("doomed")
	if err := store.SaveChunks(proj.ID, sampleChunks()); err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}

	if err := store.Delete(proj.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(proj.ID); err == nil {
		t.Error("deleted project still resolvable")
	}
	if _, err := os.Stat(store.ProjectDir(proj.ID)); !os.IsNotExist(err) {
		t.Error("project dir should be removed")
	}
	if _, err := store.LoadChunks(proj.ID); err == nil {
		t.Error("chunk records should be gone after delete")
	}
}

// ========== Chunk records ==========

func TestChunkRoundTrip(t *testing.T) {
	store := tempStore(t)
	proj, _ := store.Create("doc")

	if err := store.SaveChunks(proj.ID, sampleChunks()); err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}
	got, err := store.LoadChunks(proj.ID)
	if err != nil {
		t.Fatalf("LoadChunks failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0].Position != 0 || got[1].Position != 1 {
		t.Error("chunk order not preserved")
	}
	if got[0].Type != segmenter.TypeHeading || got[0].Translation != "## 范围" {
		t.Errorf("chunk 0 = %+v", got[0])
	}
}

func TestSaveChunks_UnknownProject(t *testing.T) {
	store := tempStore(t)
	if err := store.SaveChunks("nope", sampleChunks()); err == nil {
		t.Error("expected error for unknown project")
	}
}

func TestUpdateChunk(t *testing.T) {
	store := tempStore(t)
	proj, _ := store.Create("doc")
	_ = store.SaveChunks(proj.ID, sampleChunks())

	edited := sampleChunks()[1]
	edited.Translation = "该设备必须符合要求。"
	if err := store.UpdateChunk(proj.ID, edited); err != nil {
		t.Fatalf("UpdateChunk failed: %v", err)
	}

	got, _ := store.LoadChunks(proj.ID)
	if got[1].Translation != "该设备必须符合要求。" {
		t.Errorf("chunk not updated: %+v", got[1])
	}

	missing := edited
	missing.ID = "chunk-99"
	if err := store.UpdateChunk(proj.ID, missing); err == nil {
		t.Error("expected error for unknown chunk id")
	}
}
