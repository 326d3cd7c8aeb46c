// Package wordcount is a bundled plugin that counts words in the open
// document and shows the total in the status bar.
package wordcount

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/felixgeelhaar/lokus/internal/adapters/native"
	"github.com/felixgeelhaar/lokus/internal/domain/api"
	"github.com/felixgeelhaar/lokus/internal/domain/command"
	"github.com/felixgeelhaar/lokus/internal/domain/manifest"
	"github.com/felixgeelhaar/lokus/internal/domain/sdk"
)

// Identifiers registered by the plugin.
const (
	ID             = "lokus.wordcount"
	BuiltinName    = "wordcount"
	CountCommand   = "wordcount.count"
	UpdateCommand  = "wordcount.update"
	StatusItemID   = "wordcount.status"
	wordsPerMinute = 200
)

// Stats summarizes a document.
type Stats struct {
	Words          int `json:"words"`
	Characters     int `json:"characters"`
	NonSpace       int `json:"nonSpace"`
	Lines          int `json:"lines"`
	Paragraphs     int `json:"paragraphs"`
	ReadingMinutes int `json:"readingMinutes"`
}

// Count computes Stats for text. Characters are counted after NFC
// normalization so combining sequences count once.
func Count(text string) Stats {
	text = norm.NFC.String(text)
	var s Stats
	if text == "" {
		return s
	}

	s.Characters = utf8.RuneCountInString(text)
	inWord := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		s.NonSpace++
		if !inWord && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			s.Words++
			inWord = true
		}
	}

	s.Lines = strings.Count(text, "\n") + 1
	if strings.HasSuffix(text, "\n") {
		s.Lines--
	}

	inParagraph := false
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			inParagraph = false
			continue
		}
		if !inParagraph {
			s.Paragraphs++
			inParagraph = true
		}
	}

	if s.Words > 0 {
		s.ReadingMinutes = (s.Words + wordsPerMinute - 1) / wordsPerMinute
	}
	return s
}

// Label formats the status bar text.
func Label(s Stats) string {
	if s.Words == 1 {
		return "1 word"
	}
	return fmt.Sprintf("%d words", s.Words)
}

// Manifest returns the bundled manifest.
func Manifest() *manifest.Manifest {
	return &manifest.Manifest{
		ID:           ID,
		Name:         "Word Count",
		Version:      "1.0.0",
		Main:         manifest.BuiltinScheme + BuiltinName,
		LokusVersion: ">=1.0.0",
		Description:  "Counts words, characters and reading time of the open document.",
		Author:       "Lokus",
		License:      "MIT",
		Keywords:     []string{"editor", "statistics"},
		Permissions:  []string{"editor:read", "commands:register", "ui:statusbar"},
	}
}

// Bundle returns the plugin as a native catalog bundle.
func Bundle() native.Bundle {
	return native.Bundle{
		Manifest: Manifest(),
		New:      func() sdk.Plugin { return New() },
	}
}

// Plugin counts words in the editor buffer.
type Plugin struct {
	sdk.Base
}

// New creates the plugin.
func New() *Plugin {
	return &Plugin{}
}

// Activate registers the commands and the status bar item.
func (p *Plugin) Activate(ctx context.Context) error {
	if err := p.Base.Activate(ctx); err != nil {
		return err
	}

	if _, err := p.RegisterCommand(command.Command{
		ID:             CountCommand,
		Title:          "Word Count: Show Statistics",
		Category:       "Editor",
		RequiresEditor: true,
		Handler: func(ctx context.Context, _ ...any) (any, error) {
			return p.refresh(ctx)
		},
	}); err != nil {
		return err
	}

	if _, err := p.RegisterCommand(command.Command{
		ID:              UpdateCommand,
		Title:           "Word Count: Update",
		HideFromPalette: true,
		Handler: func(ctx context.Context, _ ...any) (any, error) {
			s, err := p.refresh(ctx)
			if err != nil {
				return nil, err
			}
			return Label(s), nil
		},
	}); err != nil {
		return err
	}

	if _, err := p.RegisterStatusBarItem(api.StatusBarItem{
		ID:        StatusItemID,
		Text:      Label(Stats{}),
		Tooltip:   "Words in the current document",
		Command:   CountCommand,
		Alignment: "right",
		Priority:  100,
	}); err != nil {
		return err
	}
	return nil
}

// refresh recounts the buffer and updates the status bar.
func (p *Plugin) refresh(ctx context.Context) (Stats, error) {
	a := p.API()
	if a == nil {
		return Stats{}, sdk.ErrAPINotAvailable
	}
	content, err := a.GetEditorContent(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Count(content)
	if err := a.UpdateStatusBarItem(StatusItemID, Label(s)); err != nil {
		return s, err
	}
	return s, nil
}

var _ sdk.Plugin = (*Plugin)(nil)
