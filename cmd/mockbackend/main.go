// Command mockbackend is a local stand-in for the speech and conversation
// services, useful for end-to-end testing without real models.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/rajeshganji/voxflow/internal/audio"
)

var transcribeCount atomic.Uint64

func handleTranscribe(logger *slog.Logger) http.HandlerFunc {
	responses := []string{
		"hello, I would like to check my account",
		"can you repeat that please",
		"yes, that is correct",
		"no, that is all, thank you very much",
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			http.Error(w, "expected multipart form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file part", http.StatusBadRequest)
			return
		}
		file.Close()

		n := transcribeCount.Add(1)
		text := responses[(n-1)%uint64(len(responses))]

		logger.Info("transcription request",
			slog.String("filename", header.Filename),
			slog.Int64("size", header.Size),
			slog.String("language", r.FormValue("language")),
			slog.String("text", text),
		)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"text":       text,
			"language":   r.FormValue("language"),
			"confidence": 0.95,
		})
	}
}

func handleRespond(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UCID string `json:"ucid"`
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		logger.Info("response request",
			slog.String("ucid", req.UCID),
			slog.String("text", req.Text),
		)

		// One second of 440Hz tone stands in for synthesized speech
		samples := make([]int16, 8000)
		for i := range samples {
			samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/8000))
		}
		wavData, err := audio.EncodeWAV(samples, 8000)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wavData)
	}
}

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /transcribe", handleTranscribe(logger))
	mux.HandleFunc("POST /respond", handleRespond(logger))

	logger.Info("mock backend listening", slog.String("addr", *addr))
	if err := http.ListenAndServe(*addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "mockbackend: %v\n", err)
		os.Exit(1)
	}
}
