package sys

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

const CampaignTemplateID = "campaign_playlist"

type PromptTemplate struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Template    string `json:"template"`
}

type CampaignConfig struct {
	CampaignName string `json:"campaignName"`
	Setting      string `json:"setting"`
	TimePeriod   string `json:"timePeriod"`
	Styles       string `json:"styles"`
	Influences   string `json:"influences"`
}

// Vars exposes the campaign fields as template variables.
func (c CampaignConfig) Vars() map[string]string {
	return map[string]string{
		"campaignName": c.CampaignName,
		"setting":      c.Setting,
		"timePeriod":   c.TimePeriod,
		"styles":       c.Styles,
		"influences":   c.Influences,
	}
}

func LoadTemplates(path string) ([]PromptTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: templates %s", ErrNotFound, path)
		}
		return nil, err
	}
	var ts []PromptTemplate
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("%w: templates %s: %v", ErrParse, path, err)
	}
	return ts, nil
}

func LoadCampaign(path string) (CampaignConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return CampaignConfig{}, fmt.Errorf("%w: campaign config %s", ErrNotFound, path)
		}
		return CampaignConfig{}, err
	}
	var c CampaignConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return CampaignConfig{}, fmt.Errorf("%w: campaign config %s: %v", ErrParse, path, err)
	}
	return c, nil
}

// Prompter fills templates. Campaign values sit under runtime variables.
type Prompter struct {
	templates []PromptTemplate
	campaign  CampaignConfig
}

func NewPrompter(templates []PromptTemplate, campaign CampaignConfig) *Prompter {
	return &Prompter{templates: templates, campaign: campaign}
}

// LoadPrompter reads templates and campaign config from the configured paths.
func LoadPrompter(cfg *Config) (*Prompter, error) {
	ts, err := LoadTemplates(cfg.TemplatesPath)
	if err != nil {
		return nil, err
	}
	c, err := LoadCampaign(cfg.CampaignPath)
	if err != nil {
		return nil, err
	}
	return NewPrompter(ts, c), nil
}

func (p *Prompter) Render(id string, vars map[string]string) (string, error) {
	tpl, ok := lo.Find(p.templates, func(t PromptTemplate) bool { return t.ID == id })
	if !ok {
		return "", fmt.Errorf("%w: prompt template with id '%s'", ErrNotFound, id)
	}

	merged := p.campaign.Vars()
	for k, v := range vars {
		merged[k] = v
	}

	keys := lo.Keys(merged)
	slices.Sort(keys)

	text := tpl.Template
	for _, k := range keys {
		text = strings.ReplaceAll(text, "{"+k+"}", merged[k])
	}
	return text, nil
}

// FormField is one question of the generate form.
type FormField struct {
	Name    string
	Label   string
	Default string
}

var PlaylistForm = []FormField{
	{Name: "numberOfTracks", Label: "Number of tracks?", Default: "10"},
	{Name: "moods", Label: "Target moods (comma-separated)?"},
	{Name: "sceneType", Label: "Scene/encounter type?"},
	{Name: "tempo", Label: "Tempo (slow, moderate, fast)?", Default: "moderate"},
	{Name: "intensity", Label: "Intensity/energy level?", Default: "medium"},
	{Name: "environment", Label: "Environment/location?"},
	{Name: "instrumentationFocus", Label: "Instrumentation focus?"},
	{Name: "narrativeCue", Label: "Narrative cue/purpose?"},
	{Name: "trackLength", Label: "Track length (short, standard, extended)?", Default: "standard"},
}

// FormVars applies defaults and derives searchCount. It returns the requested track count.
func FormVars(answers map[string]string) (map[string]string, int, error) {
	vars := make(map[string]string, len(PlaylistForm)+1)
	for _, f := range PlaylistForm {
		v := strings.TrimSpace(answers[f.Name])
		if v == "" {
			v = f.Default
		}
		vars[f.Name] = v
	}

	n, err := strconv.Atoi(vars["numberOfTracks"])
	if err != nil || n <= 0 {
		return nil, 0, fmt.Errorf("%w: numberOfTracks must be a positive integer", ErrParse)
	}
	vars["searchCount"] = strconv.Itoa(int(math.Ceil(float64(n) * 3.5)))
	return vars, n, nil
}
