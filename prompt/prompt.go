// Package prompt builds the instructions sent to the completion model.
//
// Two prompts exist: "translate" and "detect". Both are text/template
// bodies. Built-in bodies can be overridden from a JSON file of the form
//
//	{"prompts": {"translate": "...", "detect": "..."}}
//
// which is created with the built-ins on first use.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/template"
)

// Prompt names.
const (
	KindTranslate = "translate"
	KindDetect    = "detect"
)

// TranslateTemplate is the built-in translation prompt.
const TranslateTemplate = `You are a language translation model. You must follow these rules when translating:

* Try to preserve the original meaning and intent of the text.
* Use modern, natural language that is conventional and well-understood in {{.Lang}}.
* Do not add new emojis, unless they exist in the text to be translated.
* Preserve all numeric tags, like <1>, <2>, etc. These are i18next html placeholders.
* Do not translate text inside of double curly brace templates: {{"{{...}}"}}. These are i18next template placeholders and we need to leave them as-is.
* Do not translate urls. Leave them as-is.
* Do not translate the <context> tag. Only translate the contents of the <to_translate> tag.
* Use transliteration for names that have no direct translation.
* Use the <context> tag to help you understand the context of the text to be translated.
* Do not directly reference the contents of the <context> tag in the translation. It is only there to help you translate <to_translate> more accurately.
* Always ensure that the contents of the <to_translate> tag is fully translated into {{.Lang}}.

Format your response as the following XML document:

<root>
    <translated>
        Translated text goes here, preserving the original meaning and intent.
    </translated>
</root>

Where the contents of <translated> is the translated text.

The text to translate is below in the <to_translate>...</to_translate> tags.
Please translate it to {{.Lang}}.

<translate>
    <context>{{.Context}}</context>
    <to_translate>{{.Text}}</to_translate>
</translate>`

// DetectTemplate is the built-in language detection prompt.
const DetectTemplate = `You are a language detection model. Given the text below, determine the ISO 639
language code (like 'en', 'fr', 'es', etc.) of the text:

<detect>
{{.Text}}
</detect>

Format your response as the following XML document:
<detected>
    <lang>...</lang>
</detected>`

// Data is the template input.
type Data struct {
	// Lang is the display name of the target language ("French").
	Lang    string
	Text    string
	Context string
}

// File is the on-disk override format.
type File struct {
	Prompts map[string]string `json:"prompts"`
}

// Defaults returns the built-in prompt bodies.
func Defaults() map[string]string {
	return map[string]string{
		KindTranslate: TranslateTemplate,
		KindDetect:    DetectTemplate,
	}
}

// Set holds parsed prompt templates.
type Set struct {
	mu   sync.RWMutex
	tmpl map[string]*template.Template
}

// NewSet returns a set with the built-in prompts.
func NewSet() *Set {
	s := &Set{tmpl: make(map[string]*template.Template)}
	for kind, body := range Defaults() {
		s.tmpl[kind] = template.Must(template.New(kind).Parse(body))
	}
	return s
}

// Override replaces the body of one prompt.
func (s *Set) Override(kind, body string) error {
	if _, ok := Defaults()[kind]; !ok {
		return fmt.Errorf("unknown prompt %q", kind)
	}
	t, err := template.New(kind).Parse(body)
	if err != nil {
		return fmt.Errorf("parsing %s prompt: %w", kind, err)
	}
	s.mu.Lock()
	s.tmpl[kind] = t
	s.mu.Unlock()
	return nil
}

// Load applies overrides from path. A missing file is created with the
// built-in prompts. Empty bodies and unknown names are ignored.
func (s *Set) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return writeDefaults(path)
	}
	if err != nil {
		return fmt.Errorf("reading prompts file: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing prompts file: %w", err)
	}
	for kind, body := range f.Prompts {
		if body == "" {
			continue
		}
		if _, ok := Defaults()[kind]; !ok {
			continue
		}
		if err := s.Override(kind, body); err != nil {
			return err
		}
	}
	return nil
}

func writeDefaults(path string) error {
	data, err := json.MarshalIndent(File{Prompts: Defaults()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling default prompts: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating prompts directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing default prompts file: %w", err)
	}
	return nil
}

func (s *Set) render(kind string, d Data) (string, error) {
	s.mu.RLock()
	t := s.tmpl[kind]
	s.mu.RUnlock()
	if t == nil {
		return "", fmt.Errorf("unknown prompt %q", kind)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", kind, err)
	}
	return buf.String(), nil
}

// Translate renders the translation prompt. A nil context renders as an
// empty <context> element.
func (s *Set) Translate(langName, text string, context *string) (string, error) {
	d := Data{Lang: langName, Text: text}
	if context != nil {
		d.Context = *context
	}
	return s.render(KindTranslate, d)
}

// Detect renders the language detection prompt.
func (s *Set) Detect(text string) (string, error) {
	return s.render(KindDetect, Data{Text: text})
}
