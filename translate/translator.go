package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/getlost-engine/transync/envelope"
	"github.com/getlost-engine/transync/langs"
	"github.com/getlost-engine/transync/prompt"
)

// ErrMalformedResponse is returned when no usable result can be recovered
// from a model answer.
var ErrMalformedResponse = errors.New("malformed model response")

// ErrUnsupportedLanguage is returned for a target outside the language table.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Translator formats prompts, calls the completer and parses the answers.
type Translator struct {
	c       Completer
	prompts *prompt.Set
}

// NewTranslator returns a Translator over c. A nil prompt set uses the
// built-in prompts.
func NewTranslator(c Completer, prompts *prompt.Set) *Translator {
	if prompts == nil {
		prompts = prompt.NewSet()
	}
	return &Translator{c: c, prompts: prompts}
}

// Translate translates text into the language with code lang. The context
// only guides the model and is never part of the result.
func (t *Translator) Translate(ctx context.Context, lang, text string, textCtx *string) (string, error) {
	l, ok := langs.Lookup(lang)
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnsupportedLanguage, lang)
	}
	p, err := t.prompts.Translate(l.Name, text, textCtx)
	if err != nil {
		return "", err
	}

	resp, err := t.c.Complete(ctx, p)
	if err != nil {
		return "", err
	}

	doc, err := envelope.Find(envelope.EscapePlaceholderTags(resp), "root")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	node := doc.Child("translated")
	if node == nil {
		return "", fmt.Errorf("%w: no <translated> element", ErrMalformedResponse)
	}
	out := strings.TrimSpace(envelope.UnescapePlaceholderTags(node.Inner()))
	if out == "" && strings.TrimSpace(text) != "" {
		return "", fmt.Errorf("%w: empty <translated> element", ErrMalformedResponse)
	}
	return out, nil
}

// DetectLanguage asks the model for the ISO 639 code of text. The result
// is lowercased but not normalized against the language table.
func (t *Translator) DetectLanguage(ctx context.Context, text string) (string, error) {
	p, err := t.prompts.Detect(text)
	if err != nil {
		return "", err
	}

	resp, err := t.c.Complete(ctx, p)
	if err != nil {
		return "", err
	}

	doc, err := envelope.Find(resp, "detected")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	node := doc.Child("lang")
	if node == nil {
		return "", fmt.Errorf("%w: no <lang> element", ErrMalformedResponse)
	}
	code := strings.ToLower(strings.TrimSpace(envelope.UnescapePlaceholderTags(node.Inner())))
	if code == "" || len(code) > 5 {
		return "", fmt.Errorf("%w: invalid language code %q", ErrMalformedResponse, code)
	}
	return code, nil
}
