// Command loqui-chat is an interactive terminal client for the streaming
// conversation engine. It speaks either transport: the HTTP stream for
// text chat, or the live socket with microphone capture and speaker
// playback for voice.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loqui-ai/loqui-go/internal/dotenv"
	"github.com/loqui-ai/loqui-go/pkg/audio/miniaudio"
	loqui "github.com/loqui-ai/loqui-go/sdk"
)

const (
	defaultBaseURL = "http://127.0.0.1:8080"
	defaultModel   = "loqui-chat-1"
	defaultTimeout = 90 * time.Second
)

type chatConfig struct {
	BaseURL   string
	Model     string
	Mode      string
	System    string
	SessionID string
	Timeout   time.Duration
	APIKey    string
	Voice     bool
}

func parseChatConfig(args []string, getenv func(string) string) (chatConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := chatConfig{}
	fs := flag.NewFlagSet("loqui-chat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.BaseURL, "base-url", defaultBaseURL, "service base URL")
	fs.StringVar(&cfg.Model, "model", defaultModel, "model to use")
	fs.StringVar(&cfg.Mode, "mode", "stream", "transport mode: stream or live")
	fs.StringVar(&cfg.System, "system", "", "optional system instruction")
	fs.StringVar(&cfg.SessionID, "session", "", "resume an existing session id")
	fs.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "per-turn timeout (e.g. 90s)")
	fs.BoolVar(&cfg.Voice, "voice", false, "enable microphone capture and speaker playback (live mode only)")
	fs.StringVar(&cfg.APIKey, "api-key", strings.TrimSpace(getenv("LOQUI_API_KEY")), "optional api key (or LOQUI_API_KEY)")

	if err := fs.Parse(args); err != nil {
		return chatConfig{}, err
	}
	if err := validateChatConfig(cfg); err != nil {
		return chatConfig{}, err
	}
	return cfg, nil
}

func validateChatConfig(cfg chatConfig) error {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return errors.New("base-url must not be empty")
	}
	baseURL, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || strings.TrimSpace(baseURL.Scheme) == "" || strings.TrimSpace(baseURL.Host) == "" {
		return errors.New("base-url must be a valid absolute URL")
	}
	if baseURL.User != nil {
		return errors.New("base-url must not include credentials")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return errors.New("model must not be empty")
	}
	switch cfg.Mode {
	case "stream", "live":
	default:
		return fmt.Errorf("mode must be stream or live, got %q", cfg.Mode)
	}
	if cfg.Voice && cfg.Mode != "live" {
		return errors.New("voice requires -mode live")
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	return nil
}

// terminalRenderer writes batched assistant text straight to the terminal.
type terminalRenderer struct {
	out io.Writer
}

func (r *terminalRenderer) BeginMessage() {}

func (r *terminalRenderer) AppendDelta(text string) { fmt.Fprint(r.out, text) }

func (r *terminalRenderer) FinalizeMessage() { fmt.Fprintln(r.out) }

func engineMode(mode string) loqui.Mode {
	if mode == "live" {
		return loqui.ModeLive
	}
	return loqui.ModeStream
}

func runChat(ctx context.Context, cfg chatConfig, in io.Reader, out, errOut io.Writer) error {
	if err := validateChatConfig(cfg); err != nil {
		return err
	}
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	var opts []loqui.ClientOption
	if cfg.APIKey != "" {
		opts = append(opts, loqui.WithAPIKey(cfg.APIKey))
	}
	client := loqui.NewClient(cfg.BaseURL, opts...)

	engineCfg := loqui.EngineConfig{
		Mode:      engineMode(cfg.Mode),
		Model:     cfg.Model,
		System:    cfg.System,
		SessionID: cfg.SessionID,
		Store:     client.History,
		Renderer:  &terminalRenderer{out: out},
	}

	var device *miniaudio.Device
	if cfg.Voice {
		var err error
		device, err = miniaudio.Open(miniaudio.Config{})
		if err != nil {
			return fmt.Errorf("open audio devices: %w", err)
		}
		defer device.Close()
		engineCfg.Playback = device.Playback()
	}

	engine, err := client.NewEngine(engineCfg)
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = engine.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer engine.Disconnect()

	fmt.Fprintf(out, "loqui-chat connected to %s using %s (%s mode)\n", cfg.BaseURL, cfg.Model, cfg.Mode)
	fmt.Fprintln(out, "Type /exit or /quit to stop.")

	go reportEvents(engine, errOut)

	if cfg.Voice {
		fmt.Fprintln(out, "Voice enabled: speak into the microphone, Ctrl-C to stop.")
		if err := engine.StreamMicrophone(ctx, device.Capture()); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "/exit", "/quit":
			fmt.Fprintln(out, "bye")
			return nil
		}

		turnCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err := engine.SendMessage(turnCtx, loqui.Prompt{Text: line})
		cancel()
		if err != nil {
			fmt.Fprintf(errOut, "turn error: %v\n", err)
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

// reportEvents surfaces errors and tool activity without disturbing the
// rendered assistant text.
func reportEvents(engine *loqui.Engine, errOut io.Writer) {
	for event := range engine.Events() {
		switch ev := event.(type) {
		case loqui.ToolCallEvent:
			for _, call := range ev.Calls {
				fmt.Fprintf(errOut, "[tool] %s\n", call.Name)
			}
		case loqui.ErrorEvent:
			fmt.Fprintf(errOut, "[error] %v\n", ev.Err)
		case loqui.CloseEvent:
			if ev.Code != 1000 {
				fmt.Fprintf(errOut, "[closed] code=%d %s\n", ev.Code, ev.Reason)
			}
			return
		}
	}
}

func main() {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "loqui-chat: %v\n", err)
		os.Exit(1)
	}

	cfg, err := parseChatConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loqui-chat: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runChat(ctx, cfg, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "loqui-chat: %v\n", err)
		os.Exit(1)
	}
}
