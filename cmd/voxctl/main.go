// voxctl is the operator CLI for a running voxd: submit announcements,
// inspect and manage the word bank, all over the message bus.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/voxlabs/vox-core/internal/pcm"
	"github.com/voxlabs/vox-core/internal/protocol"
)

var version = "0.1.0-dev"

const usage = `usage: voxctl <command> [flags]

commands:
  say      synthesize an announcement and optionally save it as wav
  stats    show word bank statistics for a scope
  purge    remove cached clips for a scope, voice, or word
  export   download a word bank archive
  import   upload a word bank archive
  version  print version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "say":
		err = runSay(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "purge":
		err = runPurge(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "import":
		err = runImport(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect(server string) (*nats.Conn, error) {
	conn, err := nats.Connect(server, nats.Name("voxctl"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", server, err)
	}
	return conn, nil
}

func runSay(args []string) error {
	fs := flag.NewFlagSet("say", flag.ExitOnError)
	server := fs.String("server", nats.DefaultURL, "NATS server URL")
	scope := fs.String("scope", "default", "Word bank scope")
	voice := fs.String("voice", "announcer", "Voice identifier")
	preset := fs.String("preset", "", "Filter preset: off, light, heavy")
	gap := fs.Int("gap", -1, "Word gap in milliseconds (-1 uses server default)")
	out := fs.String("out", "", "Write the result as a WAV file")
	timeout := fs.Duration("timeout", 60*time.Second, "How long to wait for the result")
	quiet := fs.Bool("quiet", false, "Suppress progress output")
	fs.Parse(args)

	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return fmt.Errorf("say: no text given")
	}

	conn, err := connect(*server)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := protocol.SynthesizeRequest{
		RequestID: uuid.NewString(),
		ScopeID:   *scope,
		Voice:     *voice,
		Text:      text,
		Preset:    *preset,
		Timestamp: time.Now().UTC(),
	}
	if *gap >= 0 {
		req.WordGapMS = gap
	}

	results := make(chan protocol.SynthesizeResult, 1)
	resultSub, err := conn.Subscribe(protocol.ResultSubject(req.RequestID), func(msg *nats.Msg) {
		var res protocol.SynthesizeResult
		if err := json.Unmarshal(msg.Data, &res); err == nil {
			select {
			case results <- res:
			default:
			}
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe result: %w", err)
	}
	defer resultSub.Unsubscribe()

	progressSub, err := conn.Subscribe(protocol.ProgressSubject(req.RequestID), func(msg *nats.Msg) {
		if *quiet {
			return
		}
		var p protocol.Progress
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		if p.Word != "" {
			fmt.Printf("  %-14s %s (%d/%d)\n", p.Stage, p.Word, p.Cached+p.Generated+p.Failed+p.Skipped, p.Total)
		} else {
			fmt.Printf("  %s\n", p.Stage)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe progress: %w", err)
	}
	defer progressSub.Unsubscribe()

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := conn.Publish(protocol.SubjectSynthesizeRequest, payload); err != nil {
		return fmt.Errorf("publish request: %w", err)
	}

	select {
	case res := <-results:
		return reportResult(res, *out)
	case <-time.After(*timeout):
		return fmt.Errorf("timed out after %s waiting for request %s", *timeout, req.RequestID)
	}
}

func reportResult(res protocol.SynthesizeResult, out string) error {
	if !res.Success {
		return fmt.Errorf("synthesis failed: %s", res.Error)
	}
	fmt.Printf("matched %d word(s), skipped %d, %.2fs of audio\n",
		len(res.MatchedWords), len(res.SkippedWords), res.DurationSeconds)
	for _, sk := range res.SkippedWords {
		fmt.Printf("  skipped %q: %s\n", sk.Word, sk.Reason)
	}
	if res.OutputPath != "" {
		fmt.Printf("server rendered %s\n", res.OutputPath)
	}
	if out == "" {
		return nil
	}
	format := pcm.Format{SampleRate: res.SampleRate, Channels: res.Channels}
	if err := pcm.WriteWAVFile(out, format, res.PCM); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", out)
	return nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	server := fs.String("server", nats.DefaultURL, "NATS server URL")
	scope := fs.String("scope", "default", "Word bank scope")
	fs.Parse(args)

	conn, err := connect(*server)
	if err != nil {
		return err
	}
	defer conn.Close()

	var resp protocol.StatsResponse
	if err := request(conn, protocol.SubjectAdminStats, protocol.StatsRequest{ScopeID: *scope}, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("stats: %s", resp.Error)
	}
	fmt.Printf("scope %s: %d word(s), %d bytes, voices: %s\n",
		*scope, resp.TotalWords, resp.TotalBytes, strings.Join(resp.VoicesUsed, ", "))
	return nil
}

func runPurge(args []string) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	server := fs.String("server", nats.DefaultURL, "NATS server URL")
	scope := fs.String("scope", "", "Word bank scope (required)")
	voice := fs.String("voice", "", "Limit to one voice")
	word := fs.String("word", "", "Limit to one word")
	fs.Parse(args)

	if *scope == "" {
		return fmt.Errorf("purge: -scope is required")
	}

	conn, err := connect(*server)
	if err != nil {
		return err
	}
	defer conn.Close()

	var resp protocol.PurgeResponse
	if err := request(conn, protocol.SubjectAdminPurge, protocol.PurgeRequest{
		ScopeID: *scope, Voice: *voice, Word: *word,
	}, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("purge: %s", resp.Error)
	}
	fmt.Printf("removed %d clip(s)\n", resp.Removed)
	return nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	server := fs.String("server", nats.DefaultURL, "NATS server URL")
	scope := fs.String("scope", "", "Word bank scope (required)")
	voice := fs.String("voice", "", "Limit to one voice")
	out := fs.String("out", "wordbank.vox", "Archive output path")
	fs.Parse(args)

	if *scope == "" {
		return fmt.Errorf("export: -scope is required")
	}

	conn, err := connect(*server)
	if err != nil {
		return err
	}
	defer conn.Close()

	var resp protocol.ExportResponse
	if err := request(conn, protocol.SubjectAdminExport, protocol.ExportRequest{
		ScopeID: *scope, Voice: *voice,
	}, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("export: %s", resp.Error)
	}
	if err := os.WriteFile(*out, resp.Archive, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes)\n", *out, len(resp.Archive))
	return nil
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	server := fs.String("server", nats.DefaultURL, "NATS server URL")
	scope := fs.String("scope", "", "Word bank scope (required)")
	file := fs.String("file", "wordbank.vox", "Archive to upload")
	fs.Parse(args)

	if *scope == "" {
		return fmt.Errorf("import: -scope is required")
	}

	archive, err := os.ReadFile(*file)
	if err != nil {
		return err
	}

	conn, err := connect(*server)
	if err != nil {
		return err
	}
	defer conn.Close()

	var resp protocol.ImportResponse
	if err := request(conn, protocol.SubjectAdminImport, protocol.ImportRequest{
		ScopeID: *scope, Archive: archive,
	}, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("import: %s", resp.Error)
	}
	fmt.Printf("imported %d clip(s), skipped %d\n", resp.Imported, resp.Skipped)
	return nil
}

func request(conn *nats.Conn, subject string, req any, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	msg, err := conn.Request(subject, payload, 10*time.Second)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}
	return json.Unmarshal(msg.Data, resp)
}
