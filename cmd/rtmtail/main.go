// Command rtmtail connects to a real-time messaging gateway, prints every
// inbound event as a JSON line on stdout and sends each stdin line as a
// message to the configured channel.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonirico/librtm"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a .toml or .yaml config file")
		token      = flag.String("token", "", "API token, overrides config and "+tokenEnv)
		channel    = flag.String("channel", "", "channel id stdin lines are sent to")
		logLevel   = flag.String("log-level", "", "log level: debug, info, warn, error")
	)
	flag.Parse()

	if err := run(*configPath, *token, *channel, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "rtmtail: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, token, channel, logLevel string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if token != "" {
		cfg.Client.Token = token
	}
	if channel != "" {
		cfg.Channel = channel
	}
	if logLevel != "" {
		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}

	logger := initLogger(os.Stderr, cfg)

	client, err := librtm.NewClient(cfg.Client, librtm.WithLogger(librtm.NewZerologLogger(logger)))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client.OnEvent(printEvent(os.Stdout, logger))

	if err := client.Open(ctx); err != nil {
		return err
	}
	defer client.Close()

	if cfg.Channel != "" {
		go forwardLines(ctx, os.Stdin, client, cfg.Channel, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case <-client.CloseChan():
	}
	return nil
}

func initLogger(out io.Writer, cfg appConfig) zerolog.Logger {
	if !cfg.JSONLogs {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(cfg.LogLevel).
		With().Timestamp().Str("app", "rtmtail").
		Logger()
}

type eventLine struct {
	Type  string       `json:"type"`
	Event librtm.Event `json:"event"`
}

// printEvent writes one JSON line per event.
func printEvent(out io.Writer, logger zerolog.Logger) librtm.EventHandler {
	enc := json.NewEncoder(out)
	return func(ev librtm.Event) {
		if reply, ok := ev.(*librtm.ReplyEvent); ok && !reply.OK {
			logger.Warn().Int64("reply_to", reply.ReplyTo).Interface("error", reply.Error).Msg("message rejected")
		}
		if u, ok := ev.(*librtm.UnrecognizedEvent); ok {
			_, _ = fmt.Fprintf(out, "{\"type\":%q,\"event\":%s}\n", u.Type, u.Raw)
			return
		}
		if err := enc.Encode(eventLine{Type: ev.EventType(), Event: ev}); err != nil {
			logger.Error().Err(err).Msg("cannot print event")
		}
	}
}

// forwardLines sends every non-empty line of in to channel. A line reading
// "/typing" sends a typing indicator instead.
func forwardLines(ctx context.Context, in io.Reader, client *librtm.Client, channel string, logger zerolog.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/typing":
			if err := client.IndicateTyping(ctx, channel); err != nil {
				logger.Warn().Err(err).Msg("cannot send typing indicator")
			}
			continue
		}

		id, err := client.SendMessage(ctx, channel, line)
		if err != nil {
			logger.Warn().Err(err).Msg("cannot send message")
			continue
		}
		logger.Debug().Int64("id", id).Str("channel", channel).Msg("message queued")
	}
	if err := scanner.Err(); err != nil {
		logger.Error().Err(err).Msg("reading stdin")
	}
}
