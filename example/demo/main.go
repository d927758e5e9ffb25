package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gordonklaus/portaudio"

	realtime "github.com/phonevoice/realtime-go"
	"github.com/phonevoice/realtime-go/events"
	"github.com/phonevoice/realtime-go/tool"
)

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		debug       = false
		agent       = ""
		metadataURL = ""
		tokenURL    = os.Getenv(realtime.TokenEnvVarName)
		instruction = "You are a friendly receptionist for a small salon."
		first       = "Hello! How can I help you today?"
	)

	flag.StringVar(&instruction, "instruction", instruction, "system instructions for the agent")
	flag.StringVar(&first, "first-message", first, "message spoken when the session opens")
	flag.StringVar(&agent, "agent", agent, "agent profile id to load before starting")
	flag.StringVar(&metadataURL, "metadata-url", metadataURL, "base url for agent profile lookup")
	flag.StringVar(&tokenURL, "token-url", tokenURL, "ephemeral token endpoint")
	flag.BoolVar(&debug, "debug", false, "enable debug logs")
	flag.Parse()

	slog.SetLogLoggerLevel(slog.LevelError)
	if debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	must(portaudio.Initialize())
	defer portaudio.Terminate()

	engine := realtime.New(
		realtime.WithDefaultLogger(),
		realtime.WithInstructions(instruction),
		realtime.WithFirstMessage(first),
		realtime.WithTokenURL(tokenURL),
		realtime.WithMetadataURL(metadataURL),
		realtime.WithCapture(openMic),
	)

	if agent != "" {
		profile, err := engine.LoadProfile(ctx, agent)
		must(err)
		fmt.Println("loaded agent:", profile.DisplayName)
	}

	engine.OnSpeakingChange(func(party realtime.Party, state realtime.SpeakerState) {
		fmt.Printf("[%s] speaking=%v level=%d\n", party, state.Speaking, state.Level)
	})
	engine.OnServerEvent(func(e events.ServerEvent) {
		switch x := e.(type) {
		case *events.ErrorEvent:
			slog.Error("server error", slog.Any("error", x))
		case *events.ResponseDoneEvent:
			record := engine.ToolCall()
			if record == nil {
				return
			}
			if args, err := tool.ParseBookingArguments(record.ArgumentsRaw); err == nil {
				fmt.Printf("booking> %s, %s at %s %s (%s)\n",
					args.Name, args.Service, args.Date, args.Time, args.Phone)
			}
		}
	})

	must(engine.Start(ctx))
	defer engine.Stop()
	fmt.Println("session:", engine.SessionID())
	if err := engine.MediaError(); err != nil {
		fmt.Println("no microphone:", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
