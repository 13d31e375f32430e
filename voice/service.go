package voice

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"authrax/pkg/authrax"
	"github.com/oklog/ulid/v2"
)

const defaultSource = "voice-analysis-webhook"

// Store persists voice profiles.
type Store interface {
	ActiveVoiceProfile(ctx context.Context, uid string) (*authrax.VoiceProfile, error)
	ReplaceActiveVoiceProfile(ctx context.Context, uid string, next *authrax.VoiceProfile, now time.Time) (*authrax.VoiceProfile, error)
}

// Archiver keeps raw webhook payloads.
type Archiver interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Config holds voice service configuration.
type Config struct {
	Store         Store
	Archive       Archiver // Optional
	Logger        *slog.Logger
	Now           func() time.Time
	Secret        string
	EnforceSecret bool
}

// Service ingests voice-analysis deliveries.
type Service struct {
	store         Store
	archive       Archiver
	logger        *slog.Logger
	now           func() time.Time
	secret        string
	enforceSecret bool
}

// New creates a new voice service.
func New(cfg *Config) *Service {
	s := &Service{
		store:         cfg.Store,
		archive:       cfg.Archive,
		logger:        cfg.Logger,
		now:           cfg.Now,
		secret:        cfg.Secret,
		enforceSecret: cfg.EnforceSecret,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CheckSecret compares the X-Webhook-Secret header value with the configured
// secret. A mismatch is only an error when enforcement is on.
func (s *Service) CheckSecret(got string) error {
	if s.secret == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) == 1 {
		return nil
	}
	s.logger.Warn("Voice webhook secret mismatch", "enforced", s.enforceSecret, "header_present", got != "")
	if s.enforceSecret {
		return authrax.Errorf(authrax.Unauthenticated, "voice.check_secret", "invalid webhook secret")
	}
	return nil
}

// Ingest archives body and replaces the user's active profile with the
// layers it carries.
func (s *Service) Ingest(ctx context.Context, body []byte) (*authrax.VoiceProfile, error) {
	return s.ingest(ctx, body, true)
}

// Replay re-applies a previously archived payload without archiving it again.
func (s *Service) Replay(ctx context.Context, body []byte) (*authrax.VoiceProfile, error) {
	return s.ingest(ctx, body, false)
}

func (s *Service) ingest(ctx context.Context, body []byte, archive bool) (*authrax.VoiceProfile, error) {
	p, err := ParsePayload(body)
	if err != nil {
		return nil, err
	}

	id := ulid.Make().String()
	if archive && s.archive != nil {
		key := fmt.Sprintf("voice-payloads/%s/%s.json", strings.ReplaceAll(p.UserID, "/", "_"), id)
		if err := s.archive.Put(ctx, key, body); err != nil {
			s.logger.Warn("Failed to archive voice payload", "user_id", p.UserID, "key", key, "error", err)
		}
	}

	layers := Merge(p.Updates...)
	if layers.Empty() {
		return nil, authrax.Errorf(authrax.MalformedResponse, "voice.ingest", "no voice layers in payload for user %s", p.UserID)
	}

	source := p.Source
	if source == "" {
		source = defaultSource
	}
	next := &authrax.VoiceProfile{
		ID:      id,
		Layers:  layers,
		Summary: p.Summary,
		Source:  source,
	}

	written, err := s.store.ReplaceActiveVoiceProfile(ctx, p.UserID, next, s.now())
	if err != nil {
		return nil, fmt.Errorf("replace voice profile: %w", err)
	}

	s.logger.Info("Voice profile updated",
		"user_id", p.UserID,
		"profile_id", written.ID,
		"version", written.Version,
		"sources", len(p.Updates))
	return written, nil
}

// Active returns the user's active voice profile.
func (s *Service) Active(ctx context.Context, uid string) (*authrax.VoiceProfile, error) {
	p, err := s.store.ActiveVoiceProfile(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("load voice profile: %w", err)
	}
	return p, nil
}
