package gcpspeech

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/platform/llm"
	"github.com/hubrts/youtube-command-deck/internal/transcript"
)

const segmentWindowSec = 10.0

// Client is the cloud STT fallback. It runs LongRunningRecognize over the
// whole audio file and regroups word offsets into ~10s transcript segments.
type Client struct {
	log        *logger.Logger
	client     *speech.Client
	maxRetries int
}

func NewClient(ctx context.Context, baseLog *logger.Logger) (*Client, error) {
	log := baseLog.With("service", "GCPSpeechClient")
	opts := clientOptionsFromEnv()
	if len(opts) == 0 && strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")) == "" {
		return nil, fmt.Errorf("missing GCP credentials: %w", llm.ErrProviderUnavailable)
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &Client{log: log, client: c, maxRetries: 4}, nil
}

func (c *Client) Name() string { return "gcp_speech" }

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func clientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	var opts []option.ClientOption
	if creds == "" {
		return opts
	}
	if strings.HasPrefix(creds, "{") {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	} else {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}

// Transcribe reads the audio file and returns timed segments. langHint is a
// short code like "en" or "uk"; empty means en-US.
func (c *Client) Transcribe(ctx context.Context, audioPath, langHint string) ([]transcript.Segment, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			LanguageCode:               languageCode(langHint),
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
			Encoding:                   inferEncoding(audioPath),
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}

	resp, err := c.retryLR(ctx, func() (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := c.client.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("speech longrunningrecognize: %w", err)
	}
	return segmentsFromResponse(resp), nil
}

func languageCode(hint string) string {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "uk":
		return "uk-UA"
	case "", "en":
		return "en-US"
	default:
		return hint
	}
}

func inferEncoding(path string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	case ".mp3":
		return speechpb.RecognitionConfig_MP3
	case ".ogg", ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

type timedWord struct {
	word  string
	start float64
	end   float64
}

func segmentsFromResponse(resp *speechpb.LongRunningRecognizeResponse) []transcript.Segment {
	if resp == nil || len(resp.Results) == 0 {
		return nil
	}

	var words []timedWord
	var fullText strings.Builder
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		if strings.TrimSpace(alt.Transcript) == "" {
			continue
		}
		if fullText.Len() > 0 {
			fullText.WriteString(" ")
		}
		fullText.WriteString(strings.TrimSpace(alt.Transcript))
		for _, w := range alt.Words {
			if w == nil {
				continue
			}
			words = append(words, timedWord{
				word:  w.Word,
				start: durToSec(w.StartTime),
				end:   durToSec(w.EndTime),
			})
		}
	}

	if len(words) == 0 {
		text := strings.TrimSpace(fullText.String())
		if text == "" {
			return nil
		}
		return []transcript.Segment{{Start: 0, End: 0, Text: text}}
	}
	return groupByTime(words, segmentWindowSec)
}

func groupByTime(words []timedWord, windowSec float64) []transcript.Segment {
	var segs []transcript.Segment
	curStart := words[0].start
	curEnd := words[0].end
	var buf strings.Builder

	flush := func() {
		txt := strings.TrimSpace(buf.String())
		if txt != "" {
			segs = append(segs, transcript.Segment{Start: curStart, End: curEnd, Text: txt})
		}
		buf.Reset()
	}

	for _, w := range words {
		if (w.start-curStart) >= windowSec && buf.Len() > 0 {
			flush()
			curStart = w.start
			curEnd = w.end
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(w.word)
		if w.end > curEnd {
			curEnd = w.end
		}
	}
	flush()
	return segs
}

func durToSec(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return float64(d.Seconds) + float64(d.Nanos)/1e9
}

func (c *Client) retryLR(ctx context.Context, fn func() (*speechpb.LongRunningRecognizeResponse, error)) (*speechpb.LongRunningRecognizeResponse, error) {
	backoff := 750 * time.Millisecond
	var last error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == c.maxRetries {
			break
		}
		c.log.Warn("Speech recognize retrying", "attempt", attempt+1, "error", err)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, last
}
