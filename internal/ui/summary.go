package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// TranscriptStats counts final transcripts per speaker.
type TranscriptStats struct {
	order    []string
	segments map[string]int
	words    map[string]int
	started  time.Time
}

func NewTranscriptStats() *TranscriptStats {
	return &TranscriptStats{
		segments: make(map[string]int),
		words:    make(map[string]int),
		started:  time.Now(),
	}
}

// Add records one final transcript.
func (s *TranscriptStats) Add(speaker, text string) {
	if _, ok := s.segments[speaker]; !ok {
		s.order = append(s.order, speaker)
	}
	s.segments[speaker]++
	s.words[speaker] += len(strings.Fields(text))
}

// Speakers returns speakers in order of first final transcript.
func (s *TranscriptStats) Speakers() []string {
	return append([]string(nil), s.order...)
}

// WriteSummary writes a per-speaker table to w.
func (s *TranscriptStats) WriteSummary(w io.Writer) {
	t := prettytable.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(prettytable.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.SetTitle("Transcript Summary")
	t.AppendHeader(prettytable.Row{"Speaker", "Segments", "Words"})

	var segments, words int
	for _, sp := range s.order {
		t.AppendRow(prettytable.Row{sp, s.segments[sp], s.words[sp]})
		segments += s.segments[sp]
		words += s.words[sp]
	}
	t.AppendFooter(prettytable.Row{"Total", segments, words})
	t.SetColumnConfigs([]prettytable.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	t.Render()
	fmt.Fprintf(w, "Duration: %s\n", time.Since(s.started).Round(time.Second))
}
