package sys

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPrompterRender(t *testing.T) {
	p := NewPrompter(
		[]PromptTemplate{{ID: "t", Template: "{campaignName} in {setting}: {numberOfTracks} tracks, {moods}. {unknown}"}},
		CampaignConfig{CampaignName: "Curse of Strahd", Setting: "Barovia"},
	)

	got, err := p.Render("t", map[string]string{"numberOfTracks": "10", "moods": "dread"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := "Curse of Strahd in Barovia: 10 tracks, dread. {unknown}"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestPrompterRuntimeVarsWin(t *testing.T) {
	p := NewPrompter(
		[]PromptTemplate{{ID: "t", Template: "{setting}/{setting}"}},
		CampaignConfig{Setting: "Barovia"},
	)
	got, err := p.Render("t", map[string]string{"setting": "Waterdeep"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got != "Waterdeep/Waterdeep" {
		t.Errorf("Render() = %q, want runtime value replacing every occurrence", got)
	}
}

func TestPrompterMissingTemplate(t *testing.T) {
	p := NewPrompter(nil, CampaignConfig{})
	if _, err := p.Render("campaign_playlist", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Render() error = %v, want ErrNotFound", err)
	}
}

func TestFormVars(t *testing.T) {
	vars, n, err := FormVars(map[string]string{"numberOfTracks": "10", "moods": "tense"})
	if err != nil {
		t.Fatalf("FormVars() error = %v", err)
	}
	if n != 10 {
		t.Errorf("n = %d, want 10", n)
	}
	if vars["searchCount"] != "35" {
		t.Errorf("searchCount = %q, want 35", vars["searchCount"])
	}
	if vars["tempo"] != "moderate" || vars["intensity"] != "medium" || vars["trackLength"] != "standard" {
		t.Errorf("defaults not applied: %v", vars)
	}

	vars, _, err = FormVars(map[string]string{"numberOfTracks": "3"})
	if err != nil {
		t.Fatalf("FormVars() error = %v", err)
	}
	if vars["searchCount"] != "11" {
		t.Errorf("searchCount = %q, want 11 (rounded up)", vars["searchCount"])
	}

	if _, _, err := FormVars(map[string]string{"numberOfTracks": "many"}); !errors.Is(err, ErrParse) {
		t.Errorf("FormVars(bad count) error = %v, want ErrParse", err)
	}
}

func TestLoadPrompterFiles(t *testing.T) {
	dir := t.TempDir()
	tplPath := filepath.Join(dir, "promptTemplates.json")
	campPath := filepath.Join(dir, "campaign.json")

	cfg := &Config{TemplatesPath: tplPath, CampaignPath: campPath}
	if _, err := LoadPrompter(cfg); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadPrompter(missing) error = %v, want ErrNotFound", err)
	}

	if err := os.WriteFile(tplPath, []byte(`[{"id":"campaign_playlist","description":"d","template":"{campaignName}"}]`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(campPath, []byte(`{"campaignName":"Eberron"`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPrompter(cfg); !errors.Is(err, ErrParse) {
		t.Fatalf("LoadPrompter(bad campaign) error = %v, want ErrParse", err)
	}

	if err := os.WriteFile(campPath, []byte(`{"campaignName":"Eberron"}`), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPrompter(cfg)
	if err != nil {
		t.Fatalf("LoadPrompter() error = %v", err)
	}
	got, err := p.Render(CampaignTemplateID, nil)
	if err != nil || got != "Eberron" {
		t.Fatalf("Render() = %q, %v", got, err)
	}
}
