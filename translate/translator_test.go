package translate

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeCompleter returns canned answers and records prompts.
type fakeCompleter struct {
	resp    string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.resp, f.err
}

func TestTranslator_Translate(t *testing.T) {
	fc := &fakeCompleter{resp: "Here you go:\n<root>\n  <translated>\n    <1>Quitter</1> le jeu, {{name}} & co\n  </translated>\n</root>"}
	tr := NewTranslator(fc, nil)

	ctx := "Main menu button"
	got, err := tr.Translate(context.Background(), "fr", "<1>Quit</1> the game, {{name}} & co", &ctx)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if want := "<1>Quitter</1> le jeu, {{name}} & co"; got != want {
		t.Fatalf("Translate = %q, want %q", got, want)
	}
	if len(fc.prompts) != 1 || !strings.Contains(fc.prompts[0], "French") || !strings.Contains(fc.prompts[0], "<context>Main menu button</context>") {
		t.Fatalf("unexpected prompt: %v", fc.prompts)
	}
}

func TestTranslator_TranslateFailures(t *testing.T) {
	tests := []struct {
		name string
		resp string
		err  error
		want error
	}{
		{name: "no envelope", resp: "Bonjour", want: ErrMalformedResponse},
		{name: "no translated element", resp: "<root><text>Bonjour</text></root>", want: ErrMalformedResponse},
		{name: "empty translated element", resp: "<root><translated>  </translated></root>", want: ErrMalformedResponse},
		{name: "completer error", err: context.Canceled, want: context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTranslator(&fakeCompleter{resp: tt.resp, err: tt.err}, nil)
			_, err := tr.Translate(context.Background(), "de", "Hello", nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTranslator_UnknownLanguage(t *testing.T) {
	fc := &fakeCompleter{}
	_, err := NewTranslator(fc, nil).Translate(context.Background(), "xx", "Hello", nil)
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("err = %v, want ErrUnsupportedLanguage", err)
	}
	if errors.Is(err, ErrMalformedResponse) {
		t.Fatal("an unknown target is not a model failure")
	}
	if len(fc.prompts) != 0 {
		t.Fatal("no request should be sent for an unknown language")
	}
}

func TestTranslator_DetectLanguage(t *testing.T) {
	tr := NewTranslator(&fakeCompleter{resp: "<detected>\n  <lang> PT-BR </lang>\n</detected>"}, nil)
	got, err := tr.DetectLanguage(context.Background(), "Olá")
	if err != nil {
		t.Fatalf("DetectLanguage: %v", err)
	}
	if got != "pt-br" {
		t.Fatalf("DetectLanguage = %q, want pt-br", got)
	}

	for _, resp := range []string{"English", "<detected></detected>", "<detected><lang>english language</lang></detected>"} {
		tr := NewTranslator(&fakeCompleter{resp: resp}, nil)
		if _, err := tr.DetectLanguage(context.Background(), "Hello"); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("DetectLanguage(%q) err = %v, want ErrMalformedResponse", resp, err)
		}
	}
}
