// Package tts synthesizes spoken treatment advice with Cloud Text-to-Speech
// and stores the MP3 next to the generated reports.
package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
	"google.golang.org/api/texttospeech/v1"

	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/logger"
)

// DefaultLanguage is used when a request names none.
const DefaultLanguage = "en"

// MaxTextLength is the input limit of the synthesis API in bytes.
const MaxTextLength = 5000

const defaultTimeout = 20 * time.Second

// Synthesizer writes speech audio files.
type Synthesizer struct {
	dir     string
	voice   string
	timeout time.Duration
	svc     *texttospeech.Service
	now     func() time.Time
}

// New returns a synthesizer. Without an API key it is created but every
// Synthesize call fails as unavailable.
func New(ctx context.Context, settings *conf.TTSSettings) (*Synthesizer, error) {
	s := &Synthesizer{
		dir:     settings.Dir,
		voice:   settings.VoiceName,
		timeout: settings.Timeout,
		now:     time.Now,
	}
	if s.dir == "" {
		s.dir = "tts_files"
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	if settings.APIKey == "" {
		return s, nil
	}

	opts := []option.ClientOption{option.WithAPIKey(settings.APIKey)}
	if settings.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(settings.Endpoint))
	}
	svc, err := texttospeech.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.New(err).
			Component("tts").
			Category(errors.CategoryConfiguration).
			Context("operation", "create_service").
			Build()
	}
	s.svc = svc
	return s, nil
}

// Configured reports whether synthesis can be attempted.
func (s *Synthesizer) Configured() bool {
	return s.svc != nil
}

// Synthesize renders text in lang and returns the path of the written MP3.
func (s *Synthesizer) Synthesize(ctx context.Context, text, lang string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.ValidationError("Missing text")
	}
	if len(text) > MaxTextLength {
		return "", errors.ValidationError(fmt.Sprintf("text exceeds %d bytes", MaxTextLength))
	}

	code, err := LanguageCode(lang)
	if err != nil {
		return "", err
	}

	if s.svc == nil {
		return "", errors.Newf("text-to-speech is not configured").
			Component("tts").
			Category(errors.CategoryUnavailable).
			Build()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.svc.Text.Synthesize(&texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: code,
			Name:         s.voice,
		},
		AudioConfig: &texttospeech.AudioConfig{AudioEncoding: "MP3"},
	}).Context(ctx).Do()
	if err != nil {
		return "", errors.New(err).
			Component("tts").
			Category(errors.CategoryUpstream).
			Context("language", code).
			Timing("synthesize", time.Since(start)).
			Build()
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return "", errors.New(fmt.Errorf("decode audio content: %w", err)).
			Component("tts").
			Category(errors.CategoryUpstream).
			Build()
	}

	path, err := s.write(audio)
	if err != nil {
		return "", err
	}

	GetLogger().Info("speech synthesized",
		logger.String("language", code),
		logger.Int("text_bytes", len(text)),
		logger.Int("audio_bytes", len(audio)),
		logger.Duration("duration", time.Since(start)))
	return path, nil
}

func (s *Synthesizer) write(audio []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fileError(err, s.dir)
	}

	name := fmt.Sprintf("tts_%d_%s.mp3", s.now().Unix(), uuid.NewString()[:8])
	path, err := filepath.Abs(filepath.Join(s.dir, name))
	if err != nil {
		return "", fileError(err, s.dir)
	}
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fileError(err, path)
	}
	return path, nil
}

// LanguageCode turns a BCP 47 tag into the regional code the API expects,
// e.g. "en" becomes "en-US" and "pt" becomes "pt-BR".
func LanguageCode(lang string) (string, error) {
	if lang == "" {
		lang = DefaultLanguage
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return "", errors.ValidationError(fmt.Sprintf("unsupported language %q", lang))
	}

	base, _ := tag.Base()
	region, confidence := tag.Region()
	if confidence == language.No {
		return base.String(), nil
	}
	return base.String() + "-" + region.String(), nil
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component("tts").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Build()
}
