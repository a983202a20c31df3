package dsl

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
)

// I18nSettings come from a spec's i18n.fluent.v1 block.
type I18nSettings struct {
	DefaultLocale string   `json:"default_locale"`
	Supported     []string `json:"supported"`
}

// Compiled is the indexed form of one published spec version: an intent map
// and two entry-command maps consulted menu-first by the router.
type Compiled struct {
	BotID   string
	Version int

	Use     map[string]bool
	Intents map[string]string
	Menus   map[string]*MenuFlow
	Wizards map[string]*WizardFlow
	I18n    I18nSettings
}

// rawSpec is the accepted wire shape. Flows may arrive unified in "flows"
// or segregated in "menu_flows"/"wizard_flows"; both are indexed the same.
type rawSpec struct {
	Use         []string          `json:"use"`
	Intents     []Intent          `json:"intents"`
	Flows       []json.RawMessage `json:"flows"`
	MenuFlows   []json.RawMessage `json:"menu_flows"`
	WizardFlows []json.RawMessage `json:"wizard_flows"`
	I18n        *I18nSettings     `json:"i18n"`
}

// rawFlow covers every flow encoding: typed menu/wizard entries carry their
// payload in params, legacy wizards put steps and hooks at the top level.
type rawFlow struct {
	Type     string           `json:"type"`
	EntryCmd string           `json:"entry_cmd"`
	Params   *rawFlowParams   `json:"params"`
	Policy   *RateLimitPolicy `json:"policy.ratelimit.v1"`

	// Legacy wizard encoding, equivalent to params.* after compilation.
	Steps      []WizardStep `json:"steps"`
	OnEnter    []Action     `json:"on_enter"`
	OnStep     []Action     `json:"on_step"`
	OnComplete []Action     `json:"on_complete"`
	TTLSec     int          `json:"ttl_sec"`
}

type rawFlowParams struct {
	Title   string       `json:"title"`
	Options []MenuOption `json:"options"`

	Steps      []WizardStep     `json:"steps"`
	OnEnter    []Action         `json:"on_enter"`
	OnStep     []Action         `json:"on_step"`
	OnComplete []Action         `json:"on_complete"`
	TTLSec     int              `json:"ttl_sec"`
	Policy     *RateLimitPolicy `json:"policy.ratelimit.v1"`
}

// Compile parses and indexes one spec version. Menu flows are indexed before
// wizard flows, so a wizard sharing an entry command with a menu is shadowed.
// Step regexes are compiled here so routing never pays for compilation.
func Compile(botID string, version int, raw []byte) (*Compiled, error) {
	var spec rawSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse spec: %w", err)
	}

	c := &Compiled{
		BotID:   botID,
		Version: version,
		Use:     make(map[string]bool, len(spec.Use)),
		Intents: make(map[string]string, len(spec.Intents)),
		Menus:   make(map[string]*MenuFlow),
		Wizards: make(map[string]*WizardFlow),
		I18n:    I18nSettings{DefaultLocale: "ru", Supported: []string{"ru", "en"}},
	}
	for _, tag := range spec.Use {
		c.Use[tag] = true
	}
	if spec.I18n != nil {
		if spec.I18n.DefaultLocale != "" {
			c.I18n.DefaultLocale = spec.I18n.DefaultLocale
		}
		if len(spec.I18n.Supported) > 0 {
			c.I18n.Supported = spec.I18n.Supported
		}
	}

	for _, intent := range spec.Intents {
		if intent.Cmd == "" {
			continue
		}
		c.Intents[intent.Cmd] = intent.Reply
	}

	// Menus first so a shared entry command resolves to the menu.
	for _, raw := range append(spec.MenuFlows, spec.Flows...) {
		flow, err := parseFlow(raw)
		if err != nil {
			return nil, err
		}
		if flow.Type != BlockFlowMenu {
			continue
		}
		menu, err := compileMenu(flow)
		if err != nil {
			return nil, err
		}
		c.Menus[menu.EntryCmd] = menu
	}

	for _, raw := range append(spec.WizardFlows, spec.Flows...) {
		flow, err := parseFlow(raw)
		if err != nil {
			return nil, err
		}
		if !isWizard(flow) {
			continue
		}
		wizard, err := compileWizard(flow)
		if err != nil {
			return nil, err
		}
		if _, taken := c.Menus[wizard.EntryCmd]; taken {
			slog.Warn("Wizard entry command shadowed by menu flow",
				"bot_id", botID, "entry_cmd", wizard.EntryCmd)
			continue
		}
		c.Wizards[wizard.EntryCmd] = wizard
	}

	return c, nil
}

// isWizard accepts the typed encoding and the legacy top-level-steps shape.
// A typed menu is never a wizard, even when it has no steps.
func isWizard(f *rawFlow) bool {
	switch f.Type {
	case BlockFlowWizard:
		return true
	case BlockFlowMenu:
		return false
	}
	return len(f.Steps) > 0 || len(f.OnEnter) > 0 || len(f.OnComplete) > 0
}

func parseFlow(raw json.RawMessage) (*rawFlow, error) {
	var flow rawFlow
	if err := json.Unmarshal(raw, &flow); err != nil {
		return nil, fmt.Errorf("failed to parse flow: %w", err)
	}
	if flow.EntryCmd == "" {
		return nil, fmt.Errorf("flow missing entry_cmd")
	}
	return &flow, nil
}

func compileMenu(f *rawFlow) (*MenuFlow, error) {
	menu := &MenuFlow{
		EntryCmd: f.EntryCmd,
		Title:    "Выберите действие:",
		Policy:   f.Policy,
	}
	if f.Params != nil {
		if f.Params.Title != "" {
			menu.Title = f.Params.Title
		}
		menu.Options = f.Params.Options
		if menu.Policy == nil {
			menu.Policy = f.Params.Policy
		}
	}
	return menu, nil
}

func compileWizard(f *rawFlow) (*WizardFlow, error) {
	w := &WizardFlow{
		EntryCmd:   f.EntryCmd,
		Steps:      f.Steps,
		OnEnter:    f.OnEnter,
		OnStep:     f.OnStep,
		OnComplete: f.OnComplete,
		TTLSec:     f.TTLSec,
		Policy:     f.Policy,
	}
	if f.Params != nil {
		if len(f.Params.Steps) > 0 {
			w.Steps = f.Params.Steps
		}
		if len(f.Params.OnEnter) > 0 {
			w.OnEnter = f.Params.OnEnter
		}
		if len(f.Params.OnStep) > 0 {
			w.OnStep = f.Params.OnStep
		}
		if len(f.Params.OnComplete) > 0 {
			w.OnComplete = f.Params.OnComplete
		}
		if f.Params.TTLSec > 0 {
			w.TTLSec = f.Params.TTLSec
		}
		if w.Policy == nil {
			w.Policy = f.Params.Policy
		}
	}

	for i := range w.Steps {
		step := &w.Steps[i]
		if step.Validate == nil || step.Validate.Regex == "" {
			continue
		}
		re, err := regexp.Compile(step.Validate.Regex)
		if err != nil {
			return nil, fmt.Errorf("flow %s step %d: invalid regex: %w", f.EntryCmd, i, err)
		}
		step.Validate.re = re
	}
	return w, nil
}
