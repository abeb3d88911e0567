package main

import (
	"net/http"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"aide/internal/assistant"
	"aide/internal/llm"
	"aide/internal/persona"
	"aide/internal/proxy"
	"aide/internal/server"
	"aide/internal/stt"
	"aide/internal/tts"
	whisper "aide/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	addr := cli.StringP("addr", "a", ":8000", "Listen address")
	proxyAddr := cli.StringP("proxy", "p", "", "SOCKS5 proxy address (optional)")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	personaPath := cli.String("persona", "", "Persona JSON path")
	window := cli.Int("window", 0, "Conversation window size")
	speak := cli.Bool("speak", true, "Synthesize blocking-path replies")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	godotenv.Load(*envFile)
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Error("OPENAI_API_KEY not set")
		os.Exit(1)
	}
	if *proxyAddr == "" {
		*proxyAddr = os.Getenv("AIDE_PROXY")
	}
	if *window <= 0 {
		if n, err := strconv.Atoi(os.Getenv("AIDE_WINDOW")); err == nil {
			*window = n
		}
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if *proxyAddr != "" {
		httpClient, err := proxy.NewSocksClient(*proxyAddr)
		if err != nil {
			log.Error("Failed to dial socks proxy", "proxy", *proxyAddr, "err", err)
			os.Exit(1)
		}
		opts = append(opts, option.WithHTTPClient(httpClient))
		log.Debug("Loaded proxy")
	}
	api := openai.NewClient(opts...)

	model := os.Getenv("AIDE_MODEL")
	if model == "" {
		model = "gpt-4o"
	}
	completer, err := llm.NewOpenAIClient(api, llm.OpenAIConfig{Model: model})
	if err != nil {
		log.Error("Failed to init completion client", "err", err)
		os.Exit(1)
	}

	store, err := tts.NewStore(os.Getenv("AIDE_AUDIO_DIR"))
	if err != nil {
		log.Error("Failed to init artifact store", "err", err)
		os.Exit(1)
	}
	synth := tts.NewOpenAISynthesizer(api, store, tts.OpenAIConfig{
		Voice: os.Getenv("AIDE_VOICE"),
	})

	var transcriber stt.Transcriber
	if modelPath := os.Getenv("AIDE_WHISPER_MODEL"); modelPath != "" {
		engine, err := whisper.NewEngine(modelPath)
		if err != nil {
			log.Error("Failed to init whisper", "err", err)
			os.Exit(1)
		}
		defer engine.Close()
		transcriber = stt.NewLocalTranscriber(engine, whisper.Options{Language: "auto"})
		log.Debug("Loaded local whisper engine", "model", modelPath)
	} else {
		transcriber = stt.NewOpenAITranscriber(api, 0)
	}

	pers, err := persona.Load(*personaPath)
	if err != nil {
		log.Error("Failed to load persona", "path", *personaPath, "err", err)
		os.Exit(1)
	}

	srv := server.New(server.Dependencies{
		Completer:   completer,
		Synthesizer: synth,
		Transcriber: transcriber,
		Store:       store,
		Persona:     pers,
		Session: assistant.Config{
			WindowSize: *window,
			Speak:      *speak,
		},
	})

	mux := http.NewServeMux()
	srv.Routes(mux)

	log.Info("Boot up - successful", "addr", *addr, "model", model)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Error("Server failed", "err", err)
		os.Exit(1)
	}
}
