// Package storage persists trend cache entries, topic insights, recommended
// posts and voice profiles in Firestore, with an in-memory equivalent for
// local development and tests.
package storage

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"authrax/pkg/authrax"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collection names.
const (
	CacheCollection       = "trending_cache"
	InsightCollection     = "topic_insights"
	RecommendedCollection = "recommended_posts"
	UsersCollection       = "users"
	VoiceCollection       = "voice_profiles"
)

// maxBatchWrites stays below Firestore's 500 writes per commit.
const maxBatchWrites = 400

const maxSlugLen = 40

// CacheDocID derives the trending_cache document id for an item. The hash
// covers all three inputs, so re-fetching an item overwrites its document and
// distinct items do not share one.
func CacheDocID(topic string, tf authrax.Timeframe, sourceID string) string {
	topic = authrax.NormalizeTopic(topic)
	h := sha256.Sum256([]byte(topic + "|" + string(tf) + "|" + sourceID))

	slug := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '.' || r == '_':
			return '-'
		case r == ' ' || r == '\t' || r == '\n':
			return '-'
		}
		return r
	}, topic)
	if runes := []rune(slug); len(runes) > maxSlugLen {
		slug = string(runes[:maxSlugLen])
	}
	if slug == "" {
		slug = "all"
	}

	return fmt.Sprintf("%s_%s_%x", slug, tf, h[:16])
}

// NextVoiceVersion is the version assigned to a profile replacing prev.
func NextVoiceVersion(prev float64) float64 {
	if prev < 0 {
		prev = 0
	}
	return math.Floor(prev) + 1
}

func notFound(op, what string) error {
	return authrax.Errorf(authrax.NotFound, op, "%s not found", what)
}

// retryOptions is the retry policy for storage writes.
func retryOptions(logger *slog.Logger, op string, extra ...retry.Option) []retry.Option {
	opts := []retry.Option{
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2 * time.Minute),
		retry.MaxJitter(10 * time.Second),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("Retrying storage operation after error", "attempt", n, "op", op, "error", err)
		}),
		retry.RetryIf(retryable),
	}
	return append(opts, extra...)
}

// retryable reports whether a storage error may succeed on another attempt.
// Missing documents and objects never do.
func retryable(err error) bool {
	return !authrax.IsKind(err, authrax.NotFound) && status.Code(err) != codes.NotFound
}
