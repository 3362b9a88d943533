package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/medcall/internal/audio"
	"github.com/BioHazard786/medcall/internal/client"
	"github.com/BioHazard786/medcall/internal/clientconfig"
	"github.com/BioHazard786/medcall/internal/stt"
	"github.com/BioHazard786/medcall/internal/ui"
)

const frameDuration = 100 * time.Millisecond

var (
	flagRoute    string
	flagSpeaker  string
	flagFast     bool
	flagLinger   time.Duration
	flagPlain    bool
	flagSTTRole  string
	flagSTTName  string
	flagNoReport bool
)

var transcribeCmd = &cobra.Command{
	Use:     "transcribe FILE [SECOND_FILE]",
	Aliases: []string{"t"},
	Short:   "Stream recorded audio to the live transcription service",
	Long: `Stream 16 kHz mono 16-bit PCM (WAV or raw) to a transcription socket and
show the transcripts as they arrive.

Dual-speaker routes (stt, sales, admin) take one file per speaker: the first
file is sent as the first speaker, the second as the second. With a single
file, --speaker picks which speaker it belongs to. The room route
transcribes one speaker labelled from --role and --name.

Examples:
  medcall transcribe doctor.wav patient.wav
  medcall transcribe --route sales --speaker second client.wav
  medcall transcribe --route room --role doctor --name "Dr. Rao" mic.wav`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transcribe(cmd.Context(), args)
	},
}

// source is one speaker's audio.
type source struct {
	prefix byte
	framer *audio.Framer
	closer io.Closer
}

func openSource(path string, prefix byte) (*source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var r io.Reader = f
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		if r, _, err = audio.OpenWAV(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return &source{
		prefix: prefix,
		framer: audio.NewFramer(r, audio.Expected.FrameSize(frameDuration)),
		closer: f,
	}, nil
}

// openSources maps files to speaker prefixes for route. The single-speaker
// room route still prefixes every frame; the gateway strips the byte.
func openSources(route, speaker string, files []string) ([]*source, error) {
	if route == clientconfig.RouteRoom {
		if len(files) != 1 {
			return nil, fmt.Errorf("the room route takes exactly one file")
		}
		src, err := openSource(files[0], stt.PrefixFirst)
		if err != nil {
			return nil, err
		}
		return []*source{src}, nil
	}

	prefixes := []byte{stt.PrefixFirst, stt.PrefixSecond}
	if len(files) == 1 {
		switch speaker {
		case "first", "1", "":
		case "second", "2":
			prefixes = prefixes[1:]
		default:
			return nil, fmt.Errorf("unknown speaker %q (want first or second)", speaker)
		}
	}

	sources := make([]*source, 0, len(files))
	for i, path := range files {
		src, err := openSource(path, prefixes[i])
		if err != nil {
			closeSources(sources)
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func closeSources(sources []*source) {
	for _, s := range sources {
		s.closer.Close()
	}
}

// nextFrames returns one frame from each source that still has audio.
func nextFrames(sources []*source) ([][]byte, []byte, error) {
	var frames [][]byte
	var prefixes []byte
	for _, s := range sources {
		frame, err := s.framer.Next()
		if err == io.EOF {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		frames = append(frames, frame)
		prefixes = append(prefixes, s.prefix)
	}
	return frames, prefixes, nil
}

// transcriptSink shows session events either in the live view or as plain
// lines.
type transcriptSink interface {
	push(ui.TranscriptUpdate)
	finish(error)
	quit() <-chan struct{}
}

type liveSink struct{ view *ui.TranscriptUI }

func (s liveSink) push(u ui.TranscriptUpdate) { s.view.Push(u) }
func (s liveSink) finish(err error)           { s.view.Finish(err) }
func (s liveSink) quit() <-chan struct{}      { return s.view.Exited() }

type plainSink struct{}

func (plainSink) push(u ui.TranscriptUpdate) {
	switch u.Type {
	case ui.UpdateReady:
		ui.PrintSuccess("Transcription is live")
	case ui.UpdateTranscript:
		if u.Final {
			fmt.Printf("%s %s\n", ui.BoldStyle.Render(u.Speaker+":"), u.Text)
		}
	}
}
func (plainSink) finish(error)          {}
func (plainSink) quit() <-chan struct{} { return nil }

func transcribe(ctx context.Context, files []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	url, err := cfg.STTURL(flagRoute, flagSTTRole, flagSTTName)
	if err != nil {
		return err
	}
	sources, err := openSources(flagRoute, flagSpeaker, files)
	if err != nil {
		return err
	}
	defer closeSources(sources)

	stopSpinner := ui.RunConnectionSpinner("Connecting to transcription gateway...")
	conn, err := client.DialSTT(ctx, url)
	stopSpinner()
	if err != nil {
		return err
	}
	defer conn.Close()

	var sink transcriptSink = plainSink{}
	if !flagPlain {
		view := ui.NewTranscriptUI(fmt.Sprintf("Live Transcript (%s)", routeName(flagRoute)))
		view.Start()
		sink = liveSink{view: view}
	}

	stats := ui.NewTranscriptStats()
	err = streamSession(ctx, conn, sources, sink, stats)
	sink.finish(err)
	if err != nil {
		return err
	}
	if !flagNoReport {
		fmt.Println()
		stats.WriteSummary(os.Stdout)
	}
	return nil
}

// streamSession paces audio to the socket once it is ready and relays
// events to sink. It returns after the audio ends and flagLinger passes, or
// when the user quits.
func streamSession(ctx context.Context, conn *client.STTClient, sources []*source, sink transcriptSink, stats *ui.TranscriptStats) error {
	interval := frameDuration
	if flagFast {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		ready    bool
		finished bool
		linger   <-chan time.Time
	)
	for {
		var tick <-chan time.Time
		if ready && !finished {
			tick = ticker.C
		}

		select {
		case <-ctx.Done():
			return nil

		case <-sink.quit():
			return nil

		case <-linger:
			return nil

		case ev, ok := <-conn.Events():
			if !ok {
				if finished {
					return nil
				}
				return client.NewError("transcribe", client.ErrClosed)
			}
			if err := ev.Err(); err != nil {
				return err
			}
			switch {
			case ev.Ready():
				ready = true
				sink.push(ui.TranscriptUpdate{Type: ui.UpdateReady})
			case ev.Type == stt.MessageTypeTranscript:
				if ev.IsFinal {
					stats.Add(ev.Speaker, ev.Text)
				}
				sink.push(ui.TranscriptUpdate{Type: ui.UpdateTranscript, Speaker: ev.Speaker, Text: ev.Text, Final: ev.IsFinal})
			}

		case <-tick:
			frames, prefixes, err := nextFrames(sources)
			if err != nil {
				return err
			}
			if len(frames) == 0 {
				finished = true
				linger = time.After(flagLinger)
				sink.push(ui.TranscriptUpdate{Type: ui.UpdateStatus, Text: "Audio finished, waiting for final transcripts..."})
				continue
			}
			for i, frame := range frames {
				if err := conn.SendSpeaker(prefixes[i], frame); err != nil {
					return err
				}
			}
		}
	}
}

func routeName(route string) string {
	switch route {
	case clientconfig.RouteSales:
		return "sales"
	case clientconfig.RouteAdmin:
		return "admin"
	case clientconfig.RouteRoom:
		return "room"
	default:
		return "consultation"
	}
}

func init() {
	transcribeCmd.Flags().StringVar(&flagRoute, "route", clientconfig.RouteConsult, "stt, sales, admin or room")
	transcribeCmd.Flags().StringVar(&flagSpeaker, "speaker", "first", "speaker for a single file on a dual route: first or second")
	transcribeCmd.Flags().StringVar(&flagSTTRole, "role", "", "speaker role for the room route")
	transcribeCmd.Flags().StringVar(&flagSTTName, "name", "", "speaker name for the room route")
	transcribeCmd.Flags().BoolVar(&flagFast, "fast", false, "send audio as fast as possible instead of in real time")
	transcribeCmd.Flags().DurationVar(&flagLinger, "linger", 3*time.Second, "time to wait for final transcripts after the audio ends")
	transcribeCmd.Flags().BoolVar(&flagPlain, "plain", false, "print final transcripts as plain lines")
	transcribeCmd.Flags().BoolVar(&flagNoReport, "no-summary", false, "skip the per-speaker summary")
}
