package tui

import (
	"errors"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func typeKeys(t *testing.T, m inputModel, msgs ...tea.Msg) inputModel {
	t.Helper()
	var model tea.Model = m
	for _, msg := range msgs {
		model, _ = model.Update(msg)
	}
	out, ok := model.(inputModel)
	if !ok {
		t.Fatalf("unexpected model type %T", model)
	}
	return out
}

func runes(s string) tea.Msg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestEnterSubmitsTypedAnswer(t *testing.T) {
	m := typeKeys(t, newInputModel("Version (1.2.3): "), runes("1.2.4"), tea.KeyMsg{Type: tea.KeyEnter})
	if !m.done {
		t.Fatalf("enter should finish the question")
	}
	got, err := result(m)
	if err != nil || got != "1.2.4" {
		t.Fatalf("result = %q, %v", got, err)
	}
	if view := m.View(); !strings.Contains(view, "Version (1.2.3):") || !strings.Contains(view, "1.2.4") {
		t.Fatalf("final view should keep question and answer, got %q", view)
	}
}

func TestCtrlDOnEmptyLineIsEOF(t *testing.T) {
	m := typeKeys(t, newInputModel("Continue?"), tea.KeyMsg{Type: tea.KeyCtrlD})
	if _, err := result(m); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestCtrlCInterrupts(t *testing.T) {
	m := typeKeys(t, newInputModel("Continue?"), runes("ye"), tea.KeyMsg{Type: tea.KeyCtrlC})
	if _, err := result(m); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
}
