// The aide command is the desktop chat loop: type a question (or speak
// one with --voice) and get the reply streamed to the terminal or read
// aloud through the speaker.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"aide/internal/assistant"
	"aide/internal/audio"
	"aide/internal/llm"
	"aide/internal/persona"
	"aide/internal/playback"
	"aide/internal/proxy"
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
	proxyAddr := cli.StringP("proxy", "p", "", "SOCKS5 proxy address (optional)")
	logLevel := cli.StringP("log", "l", "warn", "Log level")
	personaPath := cli.String("persona", "", "Persona JSON path")
	voice := cli.Bool("voice", false, "Record questions from the microphone")
	speak := cli.Bool("speak", false, "Read replies aloud")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	godotenv.Load(*envFile)
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Error("OPENAI_API_KEY not set")
		os.Exit(1)
	}
	if *proxyAddr == "" {
		*proxyAddr = os.Getenv("AIDE_PROXY")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if *proxyAddr != "" {
		httpClient, err := proxy.NewSocksClient(*proxyAddr)
		if err != nil {
			log.Error("Failed to dial socks proxy", "proxy", *proxyAddr, "err", err)
			os.Exit(1)
		}
		opts = append(opts, option.WithHTTPClient(httpClient))
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

	var transcriber stt.Transcriber
	if modelPath := os.Getenv("AIDE_WHISPER_MODEL"); modelPath != "" {
		engine, err := whisper.NewEngine(modelPath)
		if err != nil {
			log.Error("Failed to init whisper", "err", err)
			os.Exit(1)
		}
		defer engine.Close()
		transcriber = stt.NewLocalTranscriber(engine, whisper.Options{Language: "auto"})
	} else {
		transcriber = stt.NewOpenAITranscriber(api, 0)
	}

	pers, err := persona.Load(*personaPath)
	if err != nil {
		log.Error("Failed to load persona", "path", *personaPath, "err", err)
		os.Exit(1)
	}

	sess := assistant.New(assistant.Deps{
		Completer:   completer,
		Synthesizer: tts.NewOpenAISynthesizer(api, store, tts.OpenAIConfig{Voice: os.Getenv("AIDE_VOICE")}),
		Transcriber: transcriber,
		Store:       store,
		Persona:     pers,
	}, assistant.Config{Speak: *speak})
	defer sess.Clear()

	var rec *audio.Recorder
	if *voice {
		rec = audio.NewRecorder()
		if err := rec.Init(); err != nil {
			log.Error("Failed to init audio capture", "err", err)
			os.Exit(1)
		}
		defer rec.Close()
	}

	fmt.Println("aide ready — /clear resets the conversation, /quit exits")
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")

		var question string
		if *voice {
			if !in.Scan() { // enter starts a recording
				return
			}
			q, err := listen(rec, transcriber, store.Dir())
			if err != nil {
				fmt.Println("(didn't catch that — try again)")
				log.Debug("voice capture failed", "err", err)
				continue
			}
			question = q
			fmt.Println("you said:", question)
		} else {
			if !in.Scan() {
				return
			}
			question = strings.TrimSpace(in.Text())
		}

		switch question {
		case "":
			continue
		case "/quit":
			return
		case "/clear":
			sess.Clear()
			fmt.Println("(conversation cleared)")
			continue
		}

		if *speak {
			runBlocking(sess, store, question)
		} else {
			runStreaming(sess, question)
		}
	}
}

func runStreaming(sess *assistant.Session, question string) {
	events, err := sess.AskStream(context.Background(), question)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for ev := range events {
		switch {
		case ev.Err != nil:
			fmt.Println("\nerror:", ev.Err)
		case ev.Done:
			fmt.Println()
		default:
			fmt.Print(ev.Text)
		}
	}
}

func runBlocking(sess *assistant.Session, store *tts.Store, question string) {
	reply, err := sess.Ask(context.Background(), question)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(reply.Answer)

	if reply.ArtifactID == "" {
		return
	}
	if path, ok := store.Path(reply.ArtifactID); ok {
		if err := playback.PlayWAV(path); err != nil {
			log.Warn("playback failed", "err", err)
		}
		_ = store.Remove(reply.ArtifactID)
	}
}

// listen records one utterance and transcribes it. The hosted transcriber
// wants a container, so the capture is spooled to a throwaway WAV first.
func listen(rec *audio.Recorder, tr stt.Transcriber, dir string) (string, error) {
	fmt.Println("listening...")
	pcm, err := rec.Record()
	if err != nil {
		return "", err
	}

	if local, ok := tr.(*stt.LocalTranscriber); ok {
		return local.TranscribePCM(context.Background(), pcm)
	}

	path := filepath.Join(dir, fmt.Sprintf("capture-%d.wav", time.Now().UnixNano()))
	if err := writeWAV(path, pcm); err != nil {
		return "", err
	}
	defer os.Remove(path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return tr.Transcribe(context.Background(), raw, "capture.wav")
}

func writeWAV(path string, pcm []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ints := make([]int, len(pcm))
	for i, v := range pcm {
		ints[i] = int(v * 32767)
	}
	enc := gowav.NewEncoder(f, 16000, 16, 1, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Data:           ints,
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 16000},
		SourceBitDepth: 16,
	}); err != nil {
		return err
	}
	return enc.Close()
}
